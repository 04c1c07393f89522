package authcore

import (
	"io"

	internalaudit "github.com/labcore/authcore/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one audit record.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
type AuditSink = internalaudit.Sink

type NoOpSink = internalaudit.NoOpSink

type ChannelSink = internalaudit.ChannelSink

type JSONWriterSink = internalaudit.JSONWriterSink

type ZapSink = internalaudit.ZapSink

// Audit event types.
const (
	AuditLoginSuccess      = internalaudit.LoginSuccess
	AuditLoginFailure      = internalaudit.LoginFailure
	AuditAccountLocked     = internalaudit.AccountLocked
	AuditAccountUnlocked   = internalaudit.AccountUnlocked
	AuditRefreshSuccess    = internalaudit.RefreshSuccess
	AuditRefreshFailure    = internalaudit.RefreshFailure
	AuditRefreshReuse      = internalaudit.RefreshReuse
	AuditLogout            = internalaudit.Logout
	AuditLogoutAll         = internalaudit.LogoutAll
	AuditRevokeAll         = internalaudit.RevokeAll
	AuditRateLimited       = internalaudit.RateLimited
	AuditRateLimitDegraded = internalaudit.RateLimitDegraded
	AuditPermissionDenied  = internalaudit.PermissionDenied
	AuditRoleSaved         = internalaudit.RoleSaved
	AuditRoleDeleted       = internalaudit.RoleDeleted
)

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewZapSink writes events as structured log lines.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return internalaudit.NewZapSink(logger)
}
