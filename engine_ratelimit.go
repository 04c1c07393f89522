package authcore

import (
	"context"
	"strings"

	"github.com/labcore/authcore/internal/rate"
	"github.com/labcore/authcore/token"
)

// Allow runs the rate-limit admission check for one request. The tier is
// chosen from a bearer token only if its signature verifies and it is not
// on the denylist; otherwise the client IP is counted, per route class on
// auth-sensitive routes.
//
// Allow never fails closed: when the counter store is unreachable the
// request is admitted and the decision is marked Degraded.
func (e *Engine) Allow(ctx context.Context, req RateRequest) RateDecision {
	if e == nil || e.limiter == nil || !e.config.RateLimit.Enabled {
		return RateDecision{Allowed: true}
	}

	subject := e.rateSubject(ctx, req)
	d := e.limiter.Allow(ctx, subject)

	out := RateDecision{
		Allowed:    d.Allowed,
		Limit:      d.Limit,
		Remaining:  d.Remaining,
		Window:     string(d.Window),
		Reset:      d.Reset,
		RetryAfter: d.RetryAfter,
		Degraded:   d.Degraded,
	}
	switch {
	case d.Degraded:
		e.metrics.Inc(MetricRateLimitDegraded)
	case d.Allowed:
		e.metrics.Inc(MetricRateLimitAllowed)
	default:
		e.metrics.Inc(MetricRateLimitRejected)
		e.emitAudit(ctx, AuditEvent{
			Type:    AuditRateLimited,
			IP:      req.IP,
			Success: false,
			Reason:  string(d.Window),
			Metadata: map[string]string{
				"subject": subject.Kind,
				"tier":    string(subject.Tier),
				"route":   req.Route,
			},
		})
	}
	return out
}

func (e *Engine) rateSubject(ctx context.Context, req RateRequest) rate.Subject {
	if req.BearerToken != "" {
		if claims, err := e.tokens.Verify(req.BearerToken, token.TypeAccess); err == nil && e.bearerLive(ctx, claims) {
			return rate.UserSubject(claims.Subject, claims.Superuser)
		}
	}
	if class := e.routeClass(req.Route); class != "" {
		return rate.RouteSubject(req.IP, class)
	}
	return rate.IPSubject(req.IP)
}

// bearerLive reports whether a verified token is still honoured. A token
// whose revocation cannot be checked gets the anonymous budget.
func (e *Engine) bearerLive(ctx context.Context, claims *token.Claims) bool {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	denied, err := e.denylist.Denied(ctx, claims.ID, claims.SessionID)
	return err == nil && !denied
}

// routeClass returns the configured auth-route prefix matching route.
func (e *Engine) routeClass(route string) string {
	for _, prefix := range e.config.RateLimit.AuthRoutePrefixes {
		if prefix != "" && strings.HasPrefix(route, prefix) {
			return strings.Trim(prefix, "/")
		}
	}
	return ""
}

// onRateDegraded audits degraded mode at most once per sampling interval
// so an outage cannot flood the audit sink.
func (e *Engine) onRateDegraded(s rate.Subject, err error) {
	if e.degradedAudit != nil && !e.degradedAudit.Allow() {
		return
	}
	e.emitAudit(context.Background(), AuditEvent{
		Type:     AuditRateLimitDegraded,
		Success:  false,
		Reason:   err.Error(),
		Metadata: map[string]string{"subject": s.Kind, "tier": string(s.Tier)},
	})
}
