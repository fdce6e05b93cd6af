package authgate

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/edusphere/authgate/session"
)

// Login runs the credential gate sequence and returns where the attempt
// landed. Rejections are expressed in the outcome, not the error; the error
// is reserved for infrastructure failures (session persistence, second-factor
// profile reads).
//
// Gate order matters: the account status check runs only after the password
// matched, so inactive/banned wording never confirms an email for a caller
// who does not hold the password.
func (e *Engine) Login(ctx context.Context, email, plainPassword string) (*LoginOutcome, error) {
	if e == nil || e.credentials == nil {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricLoginLatency, time.Since(start))
	}()

	tenantID := tenantIDFromContext(ctx)

	normalized := normalizeEmail(email)
	if normalized == "" || plainPassword == "" {
		return e.rejectLogin(ctx, tenantID, "", ErrInvalidCredentials), nil
	}

	cred, err := e.credentials.FindByEmail(ctx, tenantID, normalized)
	if err != nil {
		if !errors.Is(err, ErrCredentialNotFound) {
			// Fail closed on store trouble; the caller sees the same
			// rejection as a bad password.
			log.Printf("authgate: credential lookup failed: %v", err)
		}
		return e.rejectLogin(ctx, tenantID, "", ErrInvalidCredentials), nil
	}

	result := e.hasher.Verify(plainPassword, cred.PasswordHash)
	if !result.Matched {
		return e.rejectLogin(ctx, tenantID, cred.UserID, ErrInvalidCredentials), nil
	}

	if statusErr := accountStatusError(cred.Status); statusErr != nil {
		return e.rejectLogin(ctx, tenantID, cred.UserID, statusErr), nil
	}

	if result.NeedsUpgrade && e.config.Password.UpgradeOnLogin {
		e.upgradePasswordHash(ctx, cred, plainPassword)
	}

	if cred.TemporaryPassword {
		sid, err := e.beginPendingStep(ctx, cred, nil, session.StatePendingRotation, "")
		if err != nil {
			return nil, err
		}
		e.metrics.Inc(MetricRotationRequired)
		e.emitAudit(ctx, auditEventRotationRequired, true, cred.UserID, cred.TenantID, sid, nil, nil)
		return &LoginOutcome{Kind: OutcomeRotationRequired, SessionID: sid}, nil
	}

	return e.continueSecondFactor(ctx, cred, "")
}

func (e *Engine) rejectLogin(ctx context.Context, tenantID, userID string, reason error) *LoginOutcome {
	e.metrics.Inc(MetricLoginRejected)
	e.emitAudit(ctx, auditEventLoginRejected, false, userID, tenantID, "", reason, nil)
	return rejected(reason)
}

// upgradePasswordHash rehashes a matched legacy credential in place. Strictly
// best effort: a failure is logged and audited but the login proceeds.
func (e *Engine) upgradePasswordHash(ctx context.Context, cred *Credential, plainPassword string) {
	hashed, err := e.hasher.Hash(plainPassword)
	if err == nil {
		err = e.credentials.UpdatePasswordHash(ctx, cred.UserID, hashed)
	}
	if err != nil {
		log.Printf("authgate: password hash upgrade failed for user %s: %v", cred.UserID, err)
		e.metrics.Inc(MetricPasswordUpgradeFailed)
		e.emitAudit(ctx, auditEventPasswordUpgradeFailed, false, cred.UserID, cred.TenantID, "", err, nil)
		return
	}

	cred.PasswordHash = hashed
	e.metrics.Inc(MetricPasswordUpgraded)
}
