package authcore

import (
	"context"
	"time"

	"go.uber.org/zap"
	xrate "golang.org/x/time/rate"

	internalaudit "github.com/labcore/authcore/internal/audit"
	"github.com/labcore/authcore/internal/denylist"
	"github.com/labcore/authcore/internal/flows"
	"github.com/labcore/authcore/internal/limiters"
	"github.com/labcore/authcore/internal/rate"
	"github.com/labcore/authcore/password"
	"github.com/labcore/authcore/permission"
	"github.com/labcore/authcore/refresh"
	"github.com/labcore/authcore/session"
	"github.com/labcore/authcore/token"
)

// Engine is the auth orchestrator. It composes the token service,
// revocation store, login guard, session registry, RBAC resolver and rate
// limiter into the login, refresh and logout protocols.
//
// An Engine is immutable after Build and safe for concurrent use. All
// shared state lives in the stores.
type Engine struct {
	config Config
	now    func() time.Time
	logger *zap.Logger

	tokens     *token.Manager
	verifier   password.Verifier
	identities IdentityStore
	refreshes  refresh.Store
	sessions   *session.Registry
	guard      *limiters.LoginGuard
	catalog    *permission.Catalog
	resolver   *permission.Resolver
	denylist   *denylist.List
	limiter    *rate.Limiter
	audit      *internalaudit.Dispatcher
	metrics    *Metrics

	degradedAudit *xrate.Limiter
}

// Close drains the audit queue. The stores are owned by the caller.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Catalog returns the frozen permission catalog.
func (e *Engine) Catalog() *permission.Catalog {
	return e.catalog
}

// AuditDropped reports audit events dropped because the queue was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) ready() bool {
	return e != nil && e.tokens != nil && e.identities != nil
}

// bound applies the store call timeout.
func (e *Engine) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.Store.Timeout)
}

func (e *Engine) common() flows.Common {
	return flows.Common{
		Now: e.now,
		Warn: func(ctx context.Context, msg string, err error) {
			e.logger.Warn(msg, zap.Error(err))
		},
	}
}

// storeFailure logs an infrastructure error and tags it.
func (e *Engine) storeFailure(op string, err error) error {
	e.metrics.Inc(MetricStoreUnavailable)
	e.logger.Error("store unavailable", zap.String("op", op), zap.Error(err))
	return storeErr(op, err)
}
