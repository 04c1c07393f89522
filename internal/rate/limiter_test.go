package rate

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Anonymous = Ceiling{PerMinute: 5, PerHour: 100}
	cfg.AnonymousAuth = Ceiling{PerMinute: 5, PerHour: 7}
	return cfg
}

func newTestLimiter(t *testing.T, opts ...Option) (*Limiter, *miniredis.Miniredis, *clock) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)}
	opts = append([]Option{WithClock(c.Now)}, opts...)
	return New(rdb, testConfig(), opts...), mr, c
}

func TestSixthRequestInMinuteRejected(t *testing.T) {
	l, _, c := newTestLimiter(t)
	ctx := context.Background()
	subject := IPSubject("203.0.113.7")

	for i := 1; i <= 5; i++ {
		d := l.Allow(ctx, subject)
		if !d.Allowed {
			t.Fatalf("request %d rejected", i)
		}
		if d.Remaining != 5-i || d.Window != WindowMinute || d.Limit != 5 {
			t.Fatalf("request %d: unexpected decision %+v", i, d)
		}
	}

	d := l.Allow(ctx, subject)
	if d.Allowed {
		t.Fatal("6th request should be rejected")
	}
	if d.Remaining != 0 || d.Window != WindowMinute {
		t.Fatalf("unexpected rejection %+v", d)
	}
	if d.RetryAfter != 30*time.Second {
		t.Fatalf("expected retry after 30s, got %v", d.RetryAfter)
	}
	if want := time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC); !d.Reset.Equal(want) {
		t.Fatalf("expected reset %v, got %v", want, d.Reset)
	}

	c.Set(time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC))
	if d := l.Allow(ctx, subject); !d.Allowed || d.Remaining != 4 {
		t.Fatalf("first request of next bucket should pass, got %+v", d)
	}
}

func TestRejectedRequestsAreNotCounted(t *testing.T) {
	l, mr, _ := newTestLimiter(t)
	ctx := context.Background()
	subject := IPSubject("203.0.113.8")

	for i := 0; i < 9; i++ {
		l.Allow(ctx, subject)
	}
	bucket := Bucket(time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC), WindowMinute)
	got, err := mr.Get(Key(subject, WindowMinute, bucket))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "5" {
		t.Fatalf("expected counter to stop at 5, got %s", got)
	}
}

func TestKeysAndTTL(t *testing.T) {
	l, mr, c := newTestLimiter(t)
	subject := UserSubject("u-42", false)
	l.Allow(context.Background(), subject)

	now := c.Now()
	minuteKey := "ratelimit:user:u-42:minute:" + itoa(now.Unix()/60)
	hourKey := "ratelimit:user:u-42:hour:" + itoa(now.Unix()/3600)
	if minuteKey != Key(subject, WindowMinute, Bucket(now, WindowMinute)) {
		t.Fatalf("unexpected key format %s", Key(subject, WindowMinute, Bucket(now, WindowMinute)))
	}
	if ttl := mr.TTL(minuteKey); ttl != 2*time.Minute {
		t.Fatalf("minute ttl = %v", ttl)
	}
	if ttl := mr.TTL(hourKey); ttl != 2*time.Hour {
		t.Fatalf("hour ttl = %v", ttl)
	}
}

func TestHourWindowBinds(t *testing.T) {
	l, _, c := newTestLimiter(t)
	ctx := context.Background()
	subject := RouteSubject("198.51.100.1", "login")

	// 5/min, 7/hr: after 5 in one minute and 2 in the next the hour is spent.
	for i := 0; i < 5; i++ {
		l.Allow(ctx, subject)
	}
	c.Set(time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC))

	d := l.Allow(ctx, subject)
	if !d.Allowed || d.Window != WindowHour || d.Remaining != 1 || d.Limit != 7 {
		t.Fatalf("expected hour to be more restrictive, got %+v", d)
	}
	l.Allow(ctx, subject)

	d = l.Allow(ctx, subject)
	if d.Allowed || d.Window != WindowHour {
		t.Fatalf("expected hour rejection, got %+v", d)
	}
	if d.RetryAfter != 59*time.Minute {
		t.Fatalf("expected retry at hour boundary, got %v", d.RetryAfter)
	}
}

func TestDecideTieBreaksToMinute(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := decide(true, Ceiling{PerMinute: 10, PerHour: 20}, 5, 15, now)
	if d.Window != WindowMinute || d.Remaining != 5 {
		t.Fatalf("tie should report minute window, got %+v", d)
	}

	d = decide(false, Ceiling{PerMinute: 10, PerHour: 20}, 10, 20, now)
	if d.Window != WindowHour {
		t.Fatalf("both exhausted should report hour, got %+v", d)
	}
}

func TestStoreOutageFailsOpenAndLogs(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	var hooked atomic.Int32

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	cfg := testConfig()
	cfg.DegradedLogInterval = time.Hour
	l := New(rdb, cfg,
		WithLogger(zap.New(core)),
		WithDegradedHook(func(Subject, error) { hooked.Add(1) }),
	)

	for i := 0; i < 3; i++ {
		d := l.Allow(context.Background(), IPSubject("192.0.2.1"))
		if !d.Allowed || !d.Degraded || d.Err == nil {
			t.Fatalf("expected fail-open decision, got %+v", d)
		}
	}

	if hooked.Load() != 3 {
		t.Fatalf("expected 3 degraded hooks, got %d", hooked.Load())
	}
	if logs.Len() != 1 {
		t.Fatalf("expected one sampled warning, got %d", logs.Len())
	}
	if logs.All()[0].Message != "rate limiter degraded, failing open" {
		t.Fatalf("unexpected log message %q", logs.All()[0].Message)
	}
}

func TestConcurrentRequestsRespectCeiling(t *testing.T) {
	l, _, _ := newTestLimiter(t)
	subject := IPSubject("192.0.2.50")

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow(context.Background(), subject).Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if allowed.Load() != 5 {
		t.Fatalf("expected exactly 5 admitted, got %d", allowed.Load())
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg := DefaultConfig()
	cfg.User.PerHour = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected zero ceiling to be rejected")
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
