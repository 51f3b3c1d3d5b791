// Package cache holds the permission-snapshot cache used on the read side of
// authorization. Values are JSON encoded; a miss is not an error.
package cache

import (
	"context"
	"fmt"
	"time"
)

type Cache interface {
	// Get decodes the cached value into dest and reports whether the key was present.
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

const SubjectPrefix = "cradle:subject:"

// SubjectKey is the key under which a user's authorization snapshot is cached.
func SubjectKey(userID uint) string {
	return fmt.Sprintf("%s%d", SubjectPrefix, userID)
}

// Nop never stores anything. It is used when no Redis address is configured.
type Nop struct{}

var _ Cache = Nop{}

func (Nop) Get(context.Context, string, any) (bool, error) { return false, nil }
func (Nop) Set(context.Context, string, any, time.Duration) error { return nil }
func (Nop) Delete(context.Context, ...string) error { return nil }
func (Nop) DeletePrefix(context.Context, string) error { return nil }
