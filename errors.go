package authgate

import "errors"

var (
	// ErrInvalidCredentials is returned for any credential failure that must
	// not reveal whether the email exists. Unknown email and wrong password
	// share this value and this message.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrAccountInactive is returned after the password matched when the
	// account is deactivated.
	ErrAccountInactive = errors.New("account is not active")
	// ErrAccountBanned is returned after the password matched when the
	// account is banned.
	ErrAccountBanned = errors.New("account is banned")
	// ErrPasswordMismatch means the new password and its confirmation differ.
	ErrPasswordMismatch = errors.New("password confirmation does not match")
	// ErrWeakPassword means the new password is below the configured minimum length.
	ErrWeakPassword = errors.New("password does not meet minimum length")
	// ErrSessionNotFound means the session ID does not resolve to a live record.
	ErrSessionNotFound = errors.New("session not found")
	// ErrWrongSessionState means the session exists but is not in the state
	// the operation requires.
	ErrWrongSessionState = errors.New("session is not in the required state")
	// ErrTwoFactorInput means the caller supplied both a TOTP code and a
	// backup code, or neither.
	ErrTwoFactorInput = errors.New("provide exactly one of totp code or backup code")
	// ErrTwoFactorInvalid is returned for any failed second-factor proof. It
	// does not disclose which code type was attempted.
	ErrTwoFactorInvalid = errors.New("invalid two-factor code")
	// ErrTwoFactorNotConfigured means the user has no enabled, verified
	// two-factor profile.
	ErrTwoFactorNotConfigured = errors.New("two-factor authentication not configured")
	// ErrTwoFactorSetupNotStarted means setup confirmation arrived before a
	// setup secret was issued for the session.
	ErrTwoFactorSetupNotStarted = errors.New("two-factor setup not started")
	// ErrTwoFactorAlreadyEnabled means enrollment was requested for a user
	// who already has a verified profile.
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication already enabled")
	// ErrCredentialNotFound is the sentinel a CredentialStore returns when no
	// row matches. The engine translates it to ErrInvalidCredentials before
	// it reaches callers.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrStoreUnavailable wraps credential store infrastructure failures.
	ErrStoreUnavailable = errors.New("credential store unavailable")
	// ErrSessionCreationFailed means the session record could not be persisted.
	ErrSessionCreationFailed = errors.New("session creation failed")
	// ErrSessionInvalidationFailed means logout could not remove the session record.
	ErrSessionInvalidationFailed = errors.New("session invalidation failed")
	// ErrEngineNotReady means the engine was not built with its required collaborators.
	ErrEngineNotReady = errors.New("engine not initialized")
)
