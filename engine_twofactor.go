package authgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edusphere/authgate/session"
)

// BeginTwoFactorSetup issues enrollment material for a session in the
// setup-pending state: a fresh secret, its provisioning URI, and a batch of
// plaintext backup codes shown exactly once. The candidate secret and the
// code hashes ride along in the session record until the user confirms;
// nothing touches the credential store yet.
//
// Calling it again replaces the previous challenge wholesale.
func (e *Engine) BeginTwoFactorSetup(ctx context.Context, sessionID string) (*TwoFactorSetup, error) {
	if e == nil || e.credentials == nil {
		return nil, ErrEngineNotReady
	}

	rec, err := e.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if rec.State != session.StatePendingTwoFactorSetup {
		return nil, ErrWrongSessionState
	}

	setup, hashes, err := e.generateSetup(rec.UserID, rec.Email)
	if err != nil {
		return nil, err
	}

	rec.PendingSecret = setup.Secret
	rec.PendingCodeHashes = hashes
	rec.ExpiresAt = time.Now().Add(e.config.Session.PendingTTL).Unix()
	if err := e.sessions.Save(ctx, rec, e.config.Session.PendingTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}

	e.emitAudit(ctx, auditEventTwoFactorSetupIssued, true, rec.UserID, rec.TenantID, sessionID, nil, nil)
	return setup, nil
}

// ConfirmTwoFactorSetup verifies the user's first code against the pending
// secret and, only on success, persists the enabled and verified profile and
// finishes the login. Confirmation uses the wider setup skew.
func (e *Engine) ConfirmTwoFactorSetup(ctx context.Context, sessionID, code string) (*LoginOutcome, error) {
	if e == nil || e.credentials == nil {
		return nil, ErrEngineNotReady
	}

	rec, err := e.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if rec.State != session.StatePendingTwoFactorSetup {
		return nil, ErrWrongSessionState
	}
	if len(rec.PendingSecret) == 0 {
		return nil, ErrTwoFactorSetupNotStarted
	}

	ok, err := e.totp.VerifyCode(rec.PendingSecret, code, time.Now(), e.config.TOTP.SetupSkew)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.metrics.Inc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, rec.UserID, rec.TenantID, sessionID, ErrTwoFactorInvalid, nil)
		return nil, ErrTwoFactorInvalid
	}

	profile := TwoFactorProfile{
		Secret:           rec.PendingSecret,
		Enabled:          true,
		Verified:         true,
		BackupCodeHashes: rec.PendingCodeHashes,
	}
	if err := e.credentials.SaveTwoFactorProfile(ctx, rec.UserID, profile); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metrics.Inc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, rec.UserID, rec.TenantID, sessionID, nil, nil)

	return e.finalizeAuthenticated(ctx, credentialFromRecord(rec), &profile, sessionID)
}

// VerifyTwoFactor proves the second factor for a session in the
// verification-pending state. Exactly one of totpCode or backupCode must be
// set. On failure the session stays pending and the error does not disclose
// which code type was attempted.
//
// TOTP codes are valid for their whole time step and are not single-use;
// backup codes are consumed atomically and can never be redeemed twice.
// Consumption is the last credential-store operation before the session
// flips to authenticated, so no later read can fail and strand a burned
// code.
func (e *Engine) VerifyTwoFactor(ctx context.Context, sessionID, totpCode, backupCode string) (*LoginOutcome, error) {
	if e == nil || e.credentials == nil {
		return nil, ErrEngineNotReady
	}

	rec, err := e.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if rec.State != session.StatePendingTwoFactorVerify {
		return nil, ErrWrongSessionState
	}

	if (totpCode == "") == (backupCode == "") {
		return nil, ErrTwoFactorInput
	}

	profile, err := e.credentials.GetTwoFactorProfile(ctx, rec.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !twoFactorReady(profile) {
		return nil, ErrTwoFactorNotConfigured
	}

	if totpCode != "" {
		ok, err := e.totp.VerifyCode(profile.Secret, totpCode, time.Now(), e.config.TOTP.LoginSkew)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, e.twoFactorFailure(ctx, rec)
		}
	} else {
		canonical := canonicalizeBackupCode(backupCode)
		if canonical == "" {
			return nil, e.twoFactorFailure(ctx, rec)
		}
		consumed, err := e.credentials.ConsumeBackupCode(ctx, rec.UserID, backupCodeHash(rec.UserID, canonical))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if !consumed {
			e.metrics.Inc(MetricBackupCodeFailed)
			e.emitAudit(ctx, auditEventBackupCodeFailed, false, rec.UserID, rec.TenantID, sessionID, ErrTwoFactorInvalid, nil)
			return nil, e.twoFactorFailure(ctx, rec)
		}
		e.metrics.Inc(MetricBackupCodeUsed)
		e.emitAudit(ctx, auditEventBackupCodeUsed, true, rec.UserID, rec.TenantID, sessionID, nil, nil)
	}

	e.metrics.Inc(MetricTwoFactorSuccess)
	e.emitAudit(ctx, auditEventTwoFactorSuccess, true, rec.UserID, rec.TenantID, sessionID, nil, nil)

	return e.finalizeAuthenticated(ctx, credentialFromRecord(rec), profile, sessionID)
}

// RegenerateBackupCodes replaces the full batch for an already-enrolled
// user. The current password is required as re-proof even on an
// authenticated session. Previously issued codes stop working immediately.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, currentPassword string) ([]string, error) {
	if e == nil || e.credentials == nil {
		return nil, ErrEngineNotReady
	}

	cred, profile, err := e.reproveCredential(ctx, userID, currentPassword)
	if err != nil {
		return nil, err
	}

	codes, hashes, err := generateBackupCodes(
		cred.UserID,
		e.config.TwoFactor.BackupCodeCount,
		e.config.TwoFactor.BackupCodeLength,
	)
	if err != nil {
		return nil, err
	}

	profile.BackupCodeHashes = hashes
	if err := e.credentials.SaveTwoFactorProfile(ctx, cred.UserID, *profile); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metrics.Inc(MetricBackupCodesRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesRegenerated, true, cred.UserID, cred.TenantID, "", nil, nil)
	return codes, nil
}

// DisableTwoFactor turns the second factor off. It demands both the current
// password and a live TOTP code, so neither a stolen password nor a stolen
// authenticator suffices alone.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID, currentPassword, totpCode string) error {
	if e == nil || e.credentials == nil {
		return ErrEngineNotReady
	}

	cred, profile, err := e.reproveCredential(ctx, userID, currentPassword)
	if err != nil {
		return err
	}

	ok, err := e.totp.VerifyCode(profile.Secret, totpCode, time.Now(), e.config.TOTP.LoginSkew)
	if err != nil {
		return err
	}
	if !ok {
		e.metrics.Inc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, cred.UserID, cred.TenantID, "", ErrTwoFactorInvalid, nil)
		return ErrTwoFactorInvalid
	}

	if err := e.credentials.SaveTwoFactorProfile(ctx, cred.UserID, TwoFactorProfile{}); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metrics.Inc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, cred.UserID, cred.TenantID, "", nil, nil)
	return nil
}

// EnrollTwoFactor starts voluntary enrollment for a user whose role does not
// mandate a second factor. The unverified profile is stored immediately;
// login keeps treating the user as not enrolled until ActivateTwoFactor
// succeeds.
func (e *Engine) EnrollTwoFactor(ctx context.Context, userID, currentPassword string) (*TwoFactorSetup, error) {
	if e == nil || e.credentials == nil {
		return nil, ErrEngineNotReady
	}

	cred, err := e.credentials.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !e.hasher.Verify(currentPassword, cred.PasswordHash).Matched {
		return nil, ErrInvalidCredentials
	}
	if statusErr := accountStatusError(cred.Status); statusErr != nil {
		return nil, statusErr
	}

	existing, err := e.credentials.GetTwoFactorProfile(ctx, cred.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if twoFactorReady(existing) {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	setup, hashes, err := e.generateSetup(cred.UserID, cred.Email)
	if err != nil {
		return nil, err
	}

	profile := TwoFactorProfile{
		Secret:           setup.Secret,
		Enabled:          true,
		Verified:         false,
		BackupCodeHashes: hashes,
	}
	if err := e.credentials.SaveTwoFactorProfile(ctx, cred.UserID, profile); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.emitAudit(ctx, auditEventTwoFactorSetupIssued, true, cred.UserID, cred.TenantID, "", nil, nil)
	return setup, nil
}

// ActivateTwoFactor completes voluntary enrollment by verifying the first
// code against the stored unverified profile, with the setup skew.
func (e *Engine) ActivateTwoFactor(ctx context.Context, userID, code string) error {
	if e == nil || e.credentials == nil {
		return ErrEngineNotReady
	}

	profile, err := e.credentials.GetTwoFactorProfile(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if profile == nil || !profile.Enabled || len(profile.Secret) == 0 {
		return ErrTwoFactorSetupNotStarted
	}
	if profile.Verified {
		return ErrTwoFactorAlreadyEnabled
	}

	ok, err := e.totp.VerifyCode(profile.Secret, code, time.Now(), e.config.TOTP.SetupSkew)
	if err != nil {
		return err
	}
	if !ok {
		e.metrics.Inc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, userID, "", "", ErrTwoFactorInvalid, nil)
		return ErrTwoFactorInvalid
	}

	profile.Verified = true
	if err := e.credentials.SaveTwoFactorProfile(ctx, userID, *profile); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metrics.Inc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, userID, "", "", nil, nil)
	return nil
}

func (e *Engine) reproveCredential(ctx context.Context, userID, currentPassword string) (*Credential, *TwoFactorProfile, error) {
	cred, err := e.credentials.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if !e.hasher.Verify(currentPassword, cred.PasswordHash).Matched {
		return nil, nil, ErrInvalidCredentials
	}
	if statusErr := accountStatusError(cred.Status); statusErr != nil {
		return nil, nil, statusErr
	}

	profile, err := e.credentials.GetTwoFactorProfile(ctx, cred.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !twoFactorReady(profile) {
		return nil, nil, ErrTwoFactorNotConfigured
	}

	return cred, profile, nil
}

func (e *Engine) twoFactorFailure(ctx context.Context, rec *session.Record) error {
	e.metrics.Inc(MetricTwoFactorFailure)
	e.emitAudit(ctx, auditEventTwoFactorFailure, false, rec.UserID, rec.TenantID, rec.SessionID, ErrTwoFactorInvalid, nil)
	return ErrTwoFactorInvalid
}

func (e *Engine) generateSetup(userID, accountLabel string) (*TwoFactorSetup, [][32]byte, error) {
	secret, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, nil, err
	}

	codes, hashes, err := generateBackupCodes(
		userID,
		e.config.TwoFactor.BackupCodeCount,
		e.config.TwoFactor.BackupCodeLength,
	)
	if err != nil {
		return nil, nil, err
	}

	return &TwoFactorSetup{
		Secret:          secret,
		SecretBase32:    secretBase32,
		ProvisioningURI: e.totp.ProvisionURI(secretBase32, accountLabel),
		BackupCodes:     codes,
	}, hashes, nil
}
