package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess      AuditEvent = "login_success"
	AuditLoginFailure      AuditEvent = "login_failure"
	AuditLoginRateLimited  AuditEvent = "login_rate_limited"
	AuditMFARequired       AuditEvent = "mfa_required"
	AuditAuthFailure       AuditEvent = "auth_failure"
	AuditCSRFRejected      AuditEvent = "csrf_rejected"
	AuditAccessDenied      AuditEvent = "access_denied"
	AuditLogout            AuditEvent = "logout"
	AuditMFASetup          AuditEvent = "mfa_setup"
	AuditMFAEnabled        AuditEvent = "mfa_enabled"
	AuditMFADisabled       AuditEvent = "mfa_disabled"
	AuditUserCreated       AuditEvent = "user_created"
	AuditUserDeleted       AuditEvent = "user_deleted"
	AuditPasswordChanged   AuditEvent = "password_changed"
	AuditPrivilegesChanged AuditEvent = "privileges_changed"
)

// auditLogger wraps slog.Logger for structured security audit logging and
// fans events out to the optional alerting, persistence and webhook sinks.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
	store   *auditStore
	webhook *auditWebhook
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// log writes a structured audit log entry. user is the account email, or
// empty for the system key and anonymous callers.
func (al *auditLogger) log(event AuditEvent, r *http.Request, user, reason string, extra ...slog.Attr) {
	now := time.Now().UTC()
	attrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", now.Format(time.RFC3339)),
	}
	if user != "" {
		attrs = append(attrs, slog.String("user", user))
	}
	if reason != "" {
		attrs = append(attrs, slog.String("reason", reason))
	}
	attrs = append(attrs, extra...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", attrs...)

	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
	if al.store != nil || al.webhook != nil {
		entry := newAuditEntry(event, user, r.RemoteAddr, reason, now)
		if al.store != nil {
			if err := al.store.append(entry); err != nil {
				al.logger.LogAttrs(context.Background(), slog.LevelWarn, "persisting audit entry failed",
					slog.String("error", err.Error()))
			}
		}
		if al.webhook != nil {
			al.webhook.enqueue(entry)
		}
	}
}

// logEvent records an action performed by or on user.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, user string, extra ...slog.Attr) {
	al.log(event, r, user, "", extra...)
}

// logFailure records a rejected request.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	al.log(event, r, "", reason, extra...)
}
