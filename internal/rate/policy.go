package rate

import (
	"fmt"
	"strings"
	"time"
)

// Window is one of the two nested counting windows.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
)

// Length is the window duration.
func (w Window) Length() time.Duration {
	if w == WindowHour {
		return time.Hour
	}
	return time.Minute
}

// Tier selects the ceiling applied to a request.
type Tier string

const (
	TierSuperuser     Tier = "superuser"
	TierUser          Tier = "user"
	TierAnonymousAuth Tier = "anonymous_auth"
	TierAnonymous     Tier = "anonymous"
)

// Ceiling is the request budget for both windows.
type Ceiling struct {
	PerMinute int `env:"PER_MINUTE"`
	PerHour   int `env:"PER_HOUR"`
}

// Limit returns the ceiling for w.
func (c Ceiling) Limit(w Window) int {
	if w == WindowHour {
		return c.PerHour
	}
	return c.PerMinute
}

// Config holds the per-tier ceilings.
type Config struct {
	Superuser     Ceiling `envPrefix:"SUPERUSER_"`
	User          Ceiling `envPrefix:"USER_"`
	AnonymousAuth Ceiling `envPrefix:"ANON_AUTH_"`
	Anonymous     Ceiling `envPrefix:"ANON_"`

	// Timeout bounds each counter store round trip.
	Timeout time.Duration `env:"TIMEOUT"`
	// DegradedLogInterval is the minimum spacing between degraded-mode
	// warnings. Suppressed warnings are counted and reported on the next.
	DegradedLogInterval time.Duration `env:"DEGRADED_LOG_INTERVAL"`
}

// DefaultConfig returns the stock ceilings.
func DefaultConfig() Config {
	return Config{
		Superuser:           Ceiling{PerMinute: 1000, PerHour: 10000},
		User:                Ceiling{PerMinute: 100, PerHour: 1000},
		AnonymousAuth:       Ceiling{PerMinute: 20, PerHour: 100},
		Anonymous:           Ceiling{PerMinute: 60, PerHour: 500},
		Timeout:             2 * time.Second,
		DegradedLogInterval: 10 * time.Second,
	}
}

// Ceiling returns the ceiling for t.
func (c Config) Ceiling(t Tier) Ceiling {
	switch t {
	case TierSuperuser:
		return c.Superuser
	case TierUser:
		return c.User
	case TierAnonymousAuth:
		return c.AnonymousAuth
	default:
		return c.Anonymous
	}
}

func (c Config) Validate() error {
	for _, t := range []Tier{TierSuperuser, TierUser, TierAnonymousAuth, TierAnonymous} {
		ceil := c.Ceiling(t)
		if ceil.PerMinute <= 0 || ceil.PerHour <= 0 {
			return fmt.Errorf("%w: %s ceilings must be > 0", ErrInvalidConfig, t)
		}
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be > 0", ErrInvalidConfig)
	}
	return nil
}

// Subject is the counted party. Kind and ID form part of the key.
type Subject struct {
	Kind string
	ID   string
	Tier Tier
}

// UserSubject counts per authenticated identity.
func UserSubject(identityID string, superuser bool) Subject {
	tier := TierUser
	if superuser {
		tier = TierSuperuser
	}
	return Subject{Kind: "user", ID: identityID, Tier: tier}
}

// IPSubject counts an anonymous client by address.
func IPSubject(ip string) Subject {
	return Subject{Kind: "ip", ID: ip, Tier: TierAnonymous}
}

// RouteSubject counts an anonymous client on an auth-sensitive route class.
func RouteSubject(ip, routeClass string) Subject {
	return Subject{Kind: "route", ID: routeClass + "@" + ip, Tier: TierAnonymousAuth}
}

// Key returns ratelimit:{kind}:{id}:{window}:{bucket}.
func Key(s Subject, w Window, bucket int64) string {
	var b strings.Builder
	b.Grow(len(s.Kind) + len(s.ID) + 40)
	b.WriteString("ratelimit:")
	b.WriteString(s.Kind)
	b.WriteByte(':')
	b.WriteString(s.ID)
	b.WriteByte(':')
	b.WriteString(string(w))
	b.WriteByte(':')
	fmt.Fprintf(&b, "%d", bucket)
	return b.String()
}

// Bucket is floor(now / window).
func Bucket(now time.Time, w Window) int64 {
	return now.Unix() / int64(w.Length()/time.Second)
}

// BucketEnd is the first instant of the next bucket.
func BucketEnd(now time.Time, w Window) time.Time {
	secs := int64(w.Length() / time.Second)
	return time.Unix((Bucket(now, w)+1)*secs, 0)
}
