package authcore

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventAccountLockout        = "account_lockout"
	auditEventAccountUnlock         = "account_unlock"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshInvalid        = "refresh_invalid"
	auditEventReplayDetected        = "refresh_replay_detected"
	auditEventLogoutSession         = "logout_session"
	auditEventAuthorizeDenied       = "authorize_denied"
	auditEventSessionsSwept         = "sessions_swept"
	auditEventPasswordChangeSuccess = "password_change_success"
	auditEventPasswordChangeFailure = "password_change_failure"
)

const (
	auditSeverityInfo     = "info"
	auditSeverityElevated = "elevated"
)

type auditErrCode string

const (
	auditErrInvalidCredentials auditErrCode = "invalid_credentials"
	auditErrAccountLocked      auditErrCode = "account_locked"
	auditErrAccountDisabled    auditErrCode = "account_disabled"
	auditErrUserNotFound       auditErrCode = "user_not_found"
	auditErrTokenExpired       auditErrCode = "token_expired"
	auditErrTokenMalformed     auditErrCode = "token_malformed"
	auditErrTokenTypeMismatch  auditErrCode = "token_type_mismatch"
	auditErrSessionRevoked     auditErrCode = "session_revoked"
	auditErrSessionNotFound    auditErrCode = "session_not_found"
	auditErrReplayDetected     auditErrCode = "replay_detected"
	auditErrPermissionDenied   auditErrCode = "permission_denied"
	auditErrStorage            auditErrCode = "storage_unavailable"
	auditErrInvalidInput       auditErrCode = "invalid_input"
	auditErrInternal           auditErrCode = "internal_error"
)

func auditErrorCode(err error) auditErrCode {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenMalformed):
		return auditErrTokenMalformed
	case errors.Is(err, ErrTokenTypeMismatch):
		return auditErrTokenTypeMismatch
	case errors.Is(err, ErrReplayDetected):
		return auditErrReplayDetected
	case errors.Is(err, ErrSessionRevoked):
		return auditErrSessionRevoked
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrPermissionDenied):
		return auditErrPermissionDenied
	case errors.Is(err, ErrStorageUnavailable):
		return auditErrStorage
	case errors.Is(err, ErrInvalidInput):
		return auditErrInvalidInput
	default:
		return auditErrInternal
	}
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	severity := auditSeverityInfo
	if errors.Is(err, ErrSecurityViolation) {
		severity = auditSeverityElevated
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Severity:  severity,
		UserID:    userID,
		SessionID: sessionID,
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}
