package authcore

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	xrate "golang.org/x/time/rate"

	"github.com/labcore/authcore/identity"
	internalaudit "github.com/labcore/authcore/internal/audit"
	"github.com/labcore/authcore/internal/denylist"
	"github.com/labcore/authcore/internal/limiters"
	"github.com/labcore/authcore/internal/rate"
	"github.com/labcore/authcore/password"
	"github.com/labcore/authcore/permission"
	"github.com/labcore/authcore/refresh"
	"github.com/labcore/authcore/session"
	"github.com/labcore/authcore/token"
)

// Builder assembles an Engine. A Builder is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	db     *sql.DB

	identities IdentityStore
	sessions   session.Store
	refreshes  refresh.Store
	roles      permission.Store

	permissions []string
	verifier    password.Verifier
	logger      *zap.Logger
	auditSink   AuditSink
	now         func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the client used for the denylist, the rate limiter and,
// when selected, the lockout counters.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithDB backs every store that was not set explicitly with PostgreSQL.
func (b *Builder) WithDB(db *sql.DB) *Builder {
	b.db = db
	return b
}

func (b *Builder) WithIdentityStore(s IdentityStore) *Builder {
	b.identities = s
	return b
}

func (b *Builder) WithSessionStore(s session.Store) *Builder {
	b.sessions = s
	return b
}

func (b *Builder) WithRefreshStore(s refresh.Store) *Builder {
	b.refreshes = s
	return b
}

func (b *Builder) WithRoleStore(s permission.Store) *Builder {
	b.roles = s
	return b
}

// WithPermissions registers the permission catalog. Roles may only grant
// names registered here.
func (b *Builder) WithPermissions(perms []string) *Builder {
	b.permissions = perms
	return b
}

// WithPasswordVerifier replaces the argon2id verifier built from
// Config.Password.
func (b *Builder) WithPasswordVerifier(v password.Verifier) *Builder {
	b.verifier = v
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit destination. Without one, events are
// written to the logger.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides time.Now for every component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires every component. It does
// no I/O.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if len(b.permissions) == 0 {
		return nil, errors.New("permissions must be provided")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// -------- STORES --------
	if b.db != nil {
		if b.identities == nil {
			b.identities = identity.NewPGStore(b.db)
		}
		if b.sessions == nil {
			b.sessions = session.NewPGStore(b.db)
		}
		if b.refreshes == nil {
			b.refreshes = refresh.NewPGStore(b.db)
		}
		if b.roles == nil {
			b.roles = permission.NewPGStore(b.db)
		}
	}
	if b.identities == nil || b.sessions == nil || b.refreshes == nil || b.roles == nil {
		return nil, errors.New("identity, session, refresh and role stores required")
	}

	// -------- PERMISSION CATALOG --------
	catalog := permission.NewCatalog()
	for _, p := range b.permissions {
		if _, err := catalog.Register(p); err != nil {
			return nil, err
		}
	}
	catalog.Freeze()

	// -------- TOKENS --------
	tm, err := token.NewManager(tokenConfig(cfg.Token, now))
	if err != nil {
		return nil, err
	}

	verifier := b.verifier
	if verifier == nil {
		ph, err := password.NewArgon2(password.Config{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		})
		if err != nil {
			return nil, err
		}
		verifier = ph
	}

	// -------- LOCKOUT --------
	var lockStore limiters.LockoutStore = b.identities
	if cfg.Lockout.Backend == LockoutBackendRedis {
		lockStore = limiters.NewRedisLockoutStore(b.redis)
	}
	policy := identity.LockPolicy{Threshold: cfg.Lockout.Threshold, Duration: cfg.Lockout.Duration}

	e := &Engine{
		config:     cfg,
		now:        now,
		logger:     logger,
		tokens:     tm,
		verifier:   verifier,
		identities: b.identities,
		refreshes:  b.refreshes,
		sessions:   session.NewRegistry(b.sessions, now),
		guard:      limiters.NewLoginGuard(lockStore, policy, now),
		catalog:    catalog,
		resolver:   permission.NewResolver(b.roles, catalog, cfg.RBAC.MaxDepth),
		denylist:   denylist.New(b.redis, cfg.Token.AccessTTL+cfg.Token.Leeway, cfg.Store.Timeout),
		metrics:    NewMetrics(cfg.Metrics),
	}

	// -------- RATE LIMITER --------
	interval := cfg.RateLimit.DegradedLogInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	e.degradedAudit = xrate.NewLimiter(xrate.Every(interval), 1)
	e.limiter = rate.New(b.redis, rateConfig(cfg), rate.WithClock(now), rate.WithLogger(logger), rate.WithDegradedHook(e.onRateDegraded))

	// -------- AUDIT --------
	sink := b.auditSink
	if sink == nil {
		sink = NewZapSink(logger.Named("audit"))
	}
	e.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink)

	b.built = true

	return e, nil
}

func tokenConfig(c TokenConfig, now func() time.Time) token.Config {
	tc := token.Config{
		AccessTTL:     c.AccessTTL,
		RefreshTTL:    c.RefreshTTL,
		SigningMethod: token.SigningMethod(strings.ToLower(c.SigningMethod)),
		Issuer:        c.Issuer,
		Audience:      c.Audience,
		Leeway:        c.Leeway,
		KeyID:         c.KeyID,
		Now:           now,
	}
	if c.SigningKey != "" {
		tc.PrivateKey = []byte(c.SigningKey)
	}
	if c.PublicKey != "" {
		tc.PublicKey = []byte(c.PublicKey)
	}
	return tc
}

func rateConfig(cfg Config) rate.Config {
	ceiling := func(c RateCeiling) rate.Ceiling {
		return rate.Ceiling{PerMinute: c.PerMinute, PerHour: c.PerHour}
	}
	return rate.Config{
		Superuser:           ceiling(cfg.RateLimit.Superuser),
		User:                ceiling(cfg.RateLimit.User),
		AnonymousAuth:       ceiling(cfg.RateLimit.AnonymousAuth),
		Anonymous:           ceiling(cfg.RateLimit.Anonymous),
		Timeout:             cfg.Store.Timeout,
		DegradedLogInterval: cfg.RateLimit.DegradedLogInterval,
	}
}
