package authgate

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginSuccess           = "login_success"
	auditEventLoginRejected          = "login_rejected"
	auditEventRotationRequired       = "password_rotation_required"
	auditEventRotationSuccess        = "password_rotation_success"
	auditEventRotationFailure        = "password_rotation_failure"
	auditEventPasswordUpgradeFailed  = "password_upgrade_failed"
	auditEventTwoFactorSetupRequired = "twofactor_setup_required"
	auditEventTwoFactorSetupIssued   = "twofactor_setup_issued"
	auditEventTwoFactorEnabled       = "twofactor_enabled"
	auditEventTwoFactorRequired      = "twofactor_required"
	auditEventTwoFactorSuccess       = "twofactor_success"
	auditEventTwoFactorFailure       = "twofactor_failure"
	auditEventTwoFactorDisabled      = "twofactor_disabled"
	auditEventBackupCodeUsed         = "backup_code_used"
	auditEventBackupCodeFailed       = "backup_code_failed"
	auditEventBackupCodesRegenerated = "backup_codes_regenerated"
	auditEventPermissionLoadFailed   = "permission_load_failed"
	auditEventLogoutSession          = "logout_session"
	auditEventLogoutAll              = "logout_all"
)

// auditActorUnknown is used when a failure precedes identity resolution, so
// rejected logins never leak whether the email resolved to a user.
const auditActorUnknown = "unknown"

// AuditErrorCode is the stable machine-readable failure class recorded on
// audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountInactive    AuditErrorCode = "account_inactive"
	auditErrAccountBanned      AuditErrorCode = "account_banned"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrWrongState         AuditErrorCode = "wrong_session_state"
	auditErrTwoFactorInput     AuditErrorCode = "twofactor_input"
	auditErrTwoFactorInvalid   AuditErrorCode = "twofactor_invalid"
	auditErrTwoFactorMissing   AuditErrorCode = "twofactor_not_configured"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	tenantID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}
	if tenantID == "" {
		tenantID = tenantIDFromContext(ctx)
	}
	if userID == "" {
		userID = auditActorUnknown
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	if userAgent := userAgentFromContext(ctx); userAgent != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["user_agent"] = userAgent
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		TenantID:  tenantID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrCredentialNotFound):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountInactive):
		return auditErrAccountInactive
	case errors.Is(err, ErrAccountBanned):
		return auditErrAccountBanned
	case errors.Is(err, ErrPasswordMismatch), errors.Is(err, ErrWeakPassword):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrWrongSessionState), errors.Is(err, ErrTwoFactorSetupNotStarted):
		return auditErrWrongState
	case errors.Is(err, ErrTwoFactorInput):
		return auditErrTwoFactorInput
	case errors.Is(err, ErrTwoFactorInvalid):
		return auditErrTwoFactorInvalid
	case errors.Is(err, ErrTwoFactorNotConfigured):
		return auditErrTwoFactorMissing
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrSessionCreationFailed),
		errors.Is(err, ErrSessionInvalidationFailed):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
