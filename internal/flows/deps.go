package flows

import (
	"context"
	"time"
)

// TokenPair is what a successful login or refresh hands back.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionID        string
	Permissions      []string
}

// Common holds the ambient dependencies every flow may use. Nil fields
// fall back to no-ops.
type Common struct {
	Now  func() time.Time
	Warn func(ctx context.Context, msg string, err error)
}

func (c *Common) defaults() {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Warn == nil {
		c.Warn = func(context.Context, string, error) {}
	}
}
