package rate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	xrate "golang.org/x/time/rate"
)

// KEYS[1] minute counter, KEYS[2] hour counter
// ARGV[1] minute ceiling, ARGV[2] hour ceiling, ARGV[3] minute ttl s, ARGV[4] hour ttl s
//
// Returns {allowed, minuteCount, hourCount}. Counts are post-increment
// when allowed and the observed values when rejected.
var slidingWindowScript = redis.NewScript(`
local m = tonumber(redis.call('GET', KEYS[1]) or '0')
local h = tonumber(redis.call('GET', KEYS[2]) or '0')
if m >= tonumber(ARGV[1]) or h >= tonumber(ARGV[2]) then
  return {0, m, h}
end
m = redis.call('INCR', KEYS[1])
redis.call('EXPIRE', KEYS[1], ARGV[3])
h = redis.call('INCR', KEYS[2])
redis.call('EXPIRE', KEYS[2], ARGV[4])
return {1, m, h}
`)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	// Limit, Remaining and Reset describe the binding window: on
	// rejection the exhausted one, otherwise the one with less headroom.
	Limit      int
	Remaining  int
	Window     Window
	Reset      time.Time
	RetryAfter time.Duration

	// Degraded is set when the counter store failed and the request was
	// let through unchecked.
	Degraded bool
	Err      error
}

// Limiter is the Redis-backed two-window request limiter.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
	now    func() time.Time
	logger *zap.Logger

	sampler    *xrate.Limiter
	suppressed atomic.Int64
	onDegraded func(Subject, error)
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger sets the logger for degraded-mode events.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithDegradedHook is called on every fail-open decision.
func WithDegradedHook(fn func(Subject, error)) Option {
	return func(l *Limiter) { l.onDegraded = fn }
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config, opts ...Option) *Limiter {
	interval := cfg.DegradedLogInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	l := &Limiter{
		redis:   redisClient,
		config:  cfg,
		now:     time.Now,
		logger:  zap.NewNop(),
		sampler: xrate.NewLimiter(xrate.Every(interval), 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the limiter configuration.
func (l *Limiter) Config() Config { return l.config }

// Allow checks and counts one request for s. It never blocks a request
// because of a store failure: on error the decision is allowed and
// marked Degraded.
func (l *Limiter) Allow(ctx context.Context, s Subject) Decision {
	now := l.now()
	ceil := l.config.Ceiling(s.Tier)

	minuteBucket := Bucket(now, WindowMinute)
	hourBucket := Bucket(now, WindowHour)
	keys := []string{Key(s, WindowMinute, minuteBucket), Key(s, WindowHour, hourBucket)}

	if l.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.config.Timeout)
		defer cancel()
	}

	res, err := slidingWindowScript.Run(ctx, l.redis, keys,
		ceil.PerMinute, ceil.PerHour,
		int64(2*WindowMinute.Length()/time.Second), int64(2*WindowHour.Length()/time.Second),
	).Int64Slice()
	if err == nil && len(res) != 3 {
		err = errors.New("unexpected script reply")
	}
	if err != nil {
		return l.degraded(s, ceil, now, fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
	}

	return decide(res[0] == 1, ceil, int(res[1]), int(res[2]), now)
}

func decide(allowed bool, ceil Ceiling, minuteCount, hourCount int, now time.Time) Decision {
	minuteLeft := clamp(ceil.PerMinute - minuteCount)
	hourLeft := clamp(ceil.PerHour - hourCount)

	window := WindowMinute
	switch {
	case !allowed:
		// Both exhausted: the hour reset is the earliest time a request
		// can pass.
		if hourLeft == 0 {
			window = WindowHour
		}
	case hourLeft < minuteLeft:
		window = WindowHour
	}

	d := Decision{
		Allowed: allowed,
		Limit:   ceil.Limit(window),
		Window:  window,
		Reset:   BucketEnd(now, window),
	}
	if window == WindowHour {
		d.Remaining = hourLeft
	} else {
		d.Remaining = minuteLeft
	}
	if !allowed {
		d.Remaining = 0
		d.RetryAfter = retryAfter(d.Reset.Sub(now))
	}
	return d
}

func (l *Limiter) degraded(s Subject, ceil Ceiling, now time.Time, err error) Decision {
	if l.onDegraded != nil {
		l.onDegraded(s, err)
	}
	if l.sampler.Allow() {
		l.logger.Warn("rate limiter degraded, failing open",
			zap.String("subject_kind", s.Kind),
			zap.String("tier", string(s.Tier)),
			zap.Int64("suppressed", l.suppressed.Swap(0)),
			zap.Error(err),
		)
	} else {
		l.suppressed.Add(1)
	}

	return Decision{
		Allowed:   true,
		Limit:     ceil.PerMinute,
		Remaining: ceil.PerMinute,
		Window:    WindowMinute,
		Reset:     BucketEnd(now, WindowMinute),
		Degraded:  true,
		Err:       err,
	}
}

func retryAfter(d time.Duration) time.Duration {
	secs := (d + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
