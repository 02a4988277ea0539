package consoleauth

import (
	"context"
	"errors"

	"github.com/autorent-leon/consoleauth/authapi"
	"github.com/autorent-leon/consoleauth/permission"
	"github.com/google/uuid"
)

const (
	auditEventLoginSuccess      = "login_success"
	auditEventLoginFailure      = "login_failure"
	auditEventRegister          = "register"
	auditEventSessionInitiated  = "session_initiated"
	auditEventSessionExpired    = "session_expired"
	auditEventSessionRejected   = "session_rejected"
	auditEventPermissionsFailed = "permissions_unavailable"
	auditEventLogout            = "logout"
	auditEventAccessDenied      = "access_denied"
)

// AuditErrorCode is the coarse error class stored in [AuditEvent.Error].
type AuditErrorCode string

const (
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrInvalidResponse    AuditErrorCode = "unexpected_response"
	auditErrNetwork            AuditErrorCode = "network"
	auditErrRejected           AuditErrorCode = "rejected"
	auditErrStorage            AuditErrorCode = "storage"
	auditErrTokenMissing       AuditErrorCode = "token_missing"
	auditErrStale              AuditErrorCode = "stale_session"
	auditErrTimeout            AuditErrorCode = "timeout"
	auditErrDeclined           AuditErrorCode = "declined"
	auditErrInternal           AuditErrorCode = "internal_error"
	auditErrPermissionsMissing AuditErrorCode = "no_token"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	email string,
	route string,
	err error,
	decorate func(*AuditEvent),
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if ua := userAgentFromContext(ctx); ua != "" {
		metadata = map[string]string{"user_agent": ua}
	}

	event := AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		Email:     email,
		Route:     route,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}
	if decorate != nil {
		decorate(&event)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case IsAuthFailure(err):
		return auditErrUnauthorized
	case errors.Is(err, authapi.ErrUnexpectedResponse):
		return auditErrInvalidResponse
	case errors.Is(err, authapi.ErrNetwork):
		return auditErrNetwork
	case errors.Is(err, authapi.ErrStatus):
		return auditErrRejected
	case errors.Is(err, ErrSessionStorage):
		return auditErrStorage
	case errors.Is(err, ErrTokenMissing):
		return auditErrTokenMissing
	case errors.Is(err, permission.ErrStaleResult):
		return auditErrStale
	case errors.Is(err, permission.ErrNoToken):
		return auditErrPermissionsMissing
	case errors.Is(err, context.DeadlineExceeded):
		return auditErrTimeout
	case errors.Is(err, ErrLogoutDeclined):
		return auditErrDeclined
	default:
		return auditErrInternal
	}
}
