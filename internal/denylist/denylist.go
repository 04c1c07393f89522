// Package denylist records access tokens and sessions that must be
// rejected before their access tokens expire on their own.
package denylist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps Redis failures. Callers treat it as a rejection.
var ErrUnavailable = errors.New("denylist unavailable")

// List is a Redis-backed denylist. Entries expire after ttl, which must be
// at least the access-token lifetime.
type List struct {
	redis   redis.UniversalClient
	ttl     time.Duration
	timeout time.Duration
}

// New returns a List. A zero timeout leaves the caller's deadline alone.
func New(client redis.UniversalClient, ttl, timeout time.Duration) *List {
	return &List{redis: client, ttl: ttl, timeout: timeout}
}

func tokenKey(jti string) string { return "denylist:jti:" + jti }
func sessionKey(sid string) string { return "denylist:sid:" + sid }

// DenyToken rejects one access token by its jti.
func (l *List) DenyToken(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if ttl > l.ttl {
		ttl = l.ttl
	}
	ctx, cancel := l.bound(ctx)
	defer cancel()
	if err := l.redis.Set(ctx, tokenKey(jti), 1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// DenySessions rejects every access token carrying one of sessionIDs.
func (l *List) DenySessions(ctx context.Context, sessionIDs ...string) error {
	if len(sessionIDs) == 0 {
		return nil
	}
	ctx, cancel := l.bound(ctx)
	defer cancel()

	_, err := l.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, sid := range sessionIDs {
			p.Set(ctx, sessionKey(sid), 1, l.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Denied reports whether the token or its session is listed.
func (l *List) Denied(ctx context.Context, jti, sessionID string) (bool, error) {
	keys := make([]string, 0, 2)
	if jti != "" {
		keys = append(keys, tokenKey(jti))
	}
	if sessionID != "" {
		keys = append(keys, sessionKey(sessionID))
	}
	if len(keys) == 0 {
		return false, nil
	}

	ctx, cancel := l.bound(ctx)
	defer cancel()
	n, err := l.redis.Exists(ctx, keys...).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

func (l *List) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, l.timeout)
}
