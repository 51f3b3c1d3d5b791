package services

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	// ErrNotFound: a referenced role, permission, user or device does not exist.
	ErrNotFound = errors.New("not found")
	// ErrBusinessRule: the request is well formed but violates a registry rule,
	// e.g. a parent trying to own a second device.
	ErrBusinessRule = errors.New("business rule violation")
)

// RuleError carries the human-readable reason of a business rule violation.
type RuleError struct {
	Msg string
}

func (e *RuleError) Error() string { return e.Msg }

func (e *RuleError) Unwrap() error { return ErrBusinessRule }

func ruleViolation(format string, args ...any) error {
	return &RuleError{Msg: fmt.Sprintf(format, args...)}
}

func notFound(kind string, key any) error {
	return fmt.Errorf("%s %v: %w", kind, key, ErrNotFound)
}

// lookupErr turns gorm.ErrRecordNotFound into ErrNotFound and wraps anything else.
func lookupErr(err error, kind string, key any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(kind, key)
	}
	return fmt.Errorf("load %s %v: %w", kind, key, err)
}
