package auth

import (
	"context"
	"time"

	"smartcradle/cache"
	"smartcradle/services"

	"go.uber.org/zap"
)

// SubjectLoader assembles Subjects for evaluation. Snapshots may be served
// from the cache; mutation paths never read through here.
type SubjectLoader struct {
	users   services.UserRoleService
	devices services.DeviceRegistry
	cache   cache.Cache
	ttl     time.Duration
	logger  *zap.Logger
}

func NewSubjectLoader(users services.UserRoleService, devices services.DeviceRegistry, c cache.Cache, ttl time.Duration, logger *zap.Logger) *SubjectLoader {
	return &SubjectLoader{users: users, devices: devices, cache: c, ttl: ttl, logger: logger.Named("subjects")}
}

// Load returns the user's snapshot. An unknown user yields services.ErrNotFound.
func (l *SubjectLoader) Load(ctx context.Context, userID uint) (*Subject, error) {
	key := cache.SubjectKey(userID)
	var cached Subject
	hit, err := l.cache.Get(ctx, key, &cached)
	if err != nil {
		l.logger.Warn("subject cache read failed", zap.Uint("user_id", userID), zap.Error(err))
	} else if hit {
		return &cached, nil
	}

	subject, err := l.LoadFresh(ctx, userID)
	if err != nil {
		return nil, err
	}
	if l.ttl > 0 {
		if err := l.cache.Set(ctx, key, subject, l.ttl); err != nil {
			l.logger.Warn("subject cache write failed", zap.Uint("user_id", userID), zap.Error(err))
		}
	}
	return subject, nil
}

// LoadFresh bypasses the cache.
func (l *SubjectLoader) LoadFresh(ctx context.Context, userID uint) (*Subject, error) {
	user, err := l.users.LoadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	rels, err := l.devices.Relationships(ctx, userID)
	if err != nil {
		return nil, err
	}
	return BuildSubject(user, rels), nil
}
