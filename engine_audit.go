package authcore

import (
	"context"
)

func (e *Engine) emitAudit(ctx context.Context, ev AuditEvent) {
	if e == nil || e.audit == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}
	if ev.IP == "" {
		ev.IP = clientIPFromContext(ctx)
	}
	e.audit.Emit(ctx, ev)
}

func (e *Engine) auditSuccess(ctx context.Context, typ, identityID, tenantID, sessionID string) {
	e.emitAudit(ctx, AuditEvent{
		Type:       typ,
		IdentityID: identityID,
		TenantID:   tenantID,
		SessionID:  sessionID,
		Success:    true,
	})
}

func (e *Engine) auditFailure(ctx context.Context, typ, identityID, sessionID, reason string, metadata map[string]string) {
	e.emitAudit(ctx, AuditEvent{
		Type:       typ,
		IdentityID: identityID,
		SessionID:  sessionID,
		Success:    false,
		Reason:     reason,
		Metadata:   metadata,
	})
}
