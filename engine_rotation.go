package authgate

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/edusphere/authgate/session"
)

// RotatePassword completes a forced rotation for a session in the
// rotation-pending state, then re-enters the second-factor branch: rotating
// a temporary password does not bypass role-mandated two-factor.
//
// The current password is re-verified even though login already checked it,
// so a hijacked pending session cannot set a new password on its own. On any
// validation error the session stays pending and the caller may retry.
func (e *Engine) RotatePassword(
	ctx context.Context,
	sessionID string,
	currentPassword, newPassword, confirmPassword string,
) (*LoginOutcome, error) {
	if e == nil || e.credentials == nil {
		return nil, ErrEngineNotReady
	}

	rec, err := e.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if rec.State != session.StatePendingRotation {
		return nil, e.rotationFailure(ctx, rec, ErrWrongSessionState)
	}

	if newPassword != confirmPassword {
		return nil, e.rotationFailure(ctx, rec, ErrPasswordMismatch)
	}
	if utf8.RuneCountInString(newPassword) < e.config.Password.MinLength {
		return nil, e.rotationFailure(ctx, rec, ErrWeakPassword)
	}

	cred, err := e.credentials.FindByID(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return nil, e.rotationFailure(ctx, rec, ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if !e.hasher.Verify(currentPassword, cred.PasswordHash).Matched {
		return nil, e.rotationFailure(ctx, rec, ErrInvalidCredentials)
	}
	if statusErr := accountStatusError(cred.Status); statusErr != nil {
		return nil, e.rotationFailure(ctx, rec, statusErr)
	}

	hashed, err := e.hasher.Hash(newPassword)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.credentials.UpdatePasswordHash(ctx, cred.UserID, hashed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.credentials.ClearTemporaryPassword(ctx, cred.UserID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	cred.PasswordHash = hashed
	cred.TemporaryPassword = false

	e.metrics.Inc(MetricRotationCompleted)
	e.emitAudit(ctx, auditEventRotationSuccess, true, cred.UserID, cred.TenantID, sessionID, nil, nil)

	// Same session ID continues into the next step; the pending rotation
	// record is overwritten wholesale.
	return e.continueSecondFactor(ctx, cred, sessionID)
}

func (e *Engine) rotationFailure(ctx context.Context, rec *session.Record, reason error) error {
	e.metrics.Inc(MetricRotationFailed)
	e.emitAudit(ctx, auditEventRotationFailure, false, rec.UserID, rec.TenantID, rec.SessionID, reason, nil)
	return reason
}
