// Package authgate implements credential verification and the login session
// state machine for a multi-tenant learning platform: password checks with
// transparent legacy-hash upgrade, forced rotation of temporary passwords,
// role-based two-factor enforcement with TOTP and single-use backup codes,
// and Redis-backed session records carrying a frozen permission snapshot.
package authgate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edusphere/authgate/internal"
	"github.com/edusphere/authgate/password"
	"github.com/edusphere/authgate/session"
	"github.com/edusphere/authgate/token"
)

// Engine drives every login, rotation and two-factor transition. Build one
// via the Builder; all methods are safe for concurrent use.
type Engine struct {
	config      Config
	credentials CredentialStore
	permissions PermissionLoader
	sessions    *session.Store
	tokens      *token.Manager
	hasher      *password.Hasher
	totp        *totpManager
	audit       *auditDispatcher
	metrics     *Metrics
}

// Close drains and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// Metrics exposes the engine's in-process counters.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// AuditDropped reports how many audit events were dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Logout destroys a single session. Unknown session IDs return
// ErrSessionNotFound.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	rec, err := e.getSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := e.sessions.Delete(ctx, rec.TenantID, rec.UserID, sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionInvalidationFailed, err)
	}

	e.metrics.Inc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, true, rec.UserID, rec.TenantID, sessionID, nil, nil)
	return nil
}

// LogoutAll destroys every session of a user within the context tenant and
// returns how many were removed.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}

	tenantID := tenantIDFromContext(ctx)
	removed, err := e.sessions.DeleteAllForUser(ctx, tenantID, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSessionInvalidationFailed, err)
	}

	e.metrics.Inc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, tenantID, "", nil, func() map[string]string {
		return map[string]string{"sessions_removed": fmt.Sprintf("%d", removed)}
	})
	return removed, nil
}

// Session returns the live record for a session ID, for host applications
// that need to inspect flow state.
func (e *Engine) Session(ctx context.Context, sessionID string) (*session.Record, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	return e.getSession(ctx, sessionID)
}

func (e *Engine) getSession(ctx context.Context, sessionID string) (*session.Record, error) {
	tenantID := tenantIDFromContext(ctx)
	rec, err := e.sessions.Get(ctx, tenantID, sessionID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return rec, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func accountStatusError(status AccountStatus) error {
	switch status {
	case StatusActive:
		return nil
	case StatusBanned:
		return ErrAccountBanned
	default:
		// Unknown statuses are treated as inactive, not active.
		return ErrAccountInactive
	}
}

func (e *Engine) requiresTwoFactor(role string) bool {
	for _, required := range e.config.TwoFactor.RequiredRoles {
		if role == required {
			return true
		}
	}
	return false
}

func twoFactorReady(p *TwoFactorProfile) bool {
	return p != nil && p.Enabled && p.Verified && len(p.Secret) > 0
}

// credentialFromRecord rebuilds the identity a pending record carries, so
// mid-flow steps finish the login without another credential store read.
func credentialFromRecord(rec *session.Record) *Credential {
	return &Credential{
		UserID:      rec.UserID,
		TenantID:    rec.TenantID,
		Email:       rec.Email,
		DisplayName: rec.DisplayName,
		Role:        rec.Role,
	}
}

// beginPendingStep writes an intermediate record. An empty sessionID starts
// a fresh session; a non-empty one overwrites that session's previous state
// wholesale. profile may be nil when the two-factor state is not yet known.
func (e *Engine) beginPendingStep(
	ctx context.Context,
	cred *Credential,
	profile *TwoFactorProfile,
	state session.State,
	sessionID string,
) (string, error) {
	if sessionID == "" {
		var err error
		sessionID, err = internal.NewSessionID()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
		}
	}

	now := time.Now()
	rec := &session.Record{
		SessionID:         sessionID,
		UserID:            cred.UserID,
		TenantID:          cred.TenantID,
		Email:             cred.Email,
		DisplayName:       cred.DisplayName,
		Role:              cred.Role,
		State:             state,
		TwoFactorEnabled:  profile != nil && profile.Enabled,
		TwoFactorVerified: profile != nil && profile.Verified,
		CreatedAt:         now.Unix(),
		ExpiresAt:         now.Add(e.config.Session.PendingTTL).Unix(),
	}

	if err := e.sessions.Save(ctx, rec, e.config.Session.PendingTTL); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}

	return sessionID, nil
}

// continueSecondFactor runs the branch after the password gate: role-based
// two-factor enforcement, then full authentication.
func (e *Engine) continueSecondFactor(ctx context.Context, cred *Credential, sessionID string) (*LoginOutcome, error) {
	profile, err := e.credentials.GetTwoFactorProfile(ctx, cred.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if !e.requiresTwoFactor(cred.Role) {
		return e.finalizeAuthenticated(ctx, cred, profile, sessionID)
	}

	if !twoFactorReady(profile) {
		sid, err := e.beginPendingStep(ctx, cred, profile, session.StatePendingTwoFactorSetup, sessionID)
		if err != nil {
			return nil, err
		}
		e.metrics.Inc(MetricTwoFactorSetupRequired)
		e.emitAudit(ctx, auditEventTwoFactorSetupRequired, true, cred.UserID, cred.TenantID, sid, nil, nil)
		return &LoginOutcome{Kind: OutcomeTwoFactorSetupRequired, SessionID: sid}, nil
	}

	sid, err := e.beginPendingStep(ctx, cred, profile, session.StatePendingTwoFactorVerify, sessionID)
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricTwoFactorRequired)
	e.emitAudit(ctx, auditEventTwoFactorRequired, true, cred.UserID, cred.TenantID, sid, nil, nil)
	return &LoginOutcome{Kind: OutcomeTwoFactorVerificationRequired, SessionID: sid}, nil
}

// finalizeAuthenticated is the single place a session becomes authenticated.
// The permission snapshot is loaded exactly once, here; a loader failure
// degrades to an empty snapshot and never blocks the login.
func (e *Engine) finalizeAuthenticated(ctx context.Context, cred *Credential, profile *TwoFactorProfile, sessionID string) (*LoginOutcome, error) {
	perms := e.loadPermissionSnapshot(ctx, cred)

	if sessionID == "" {
		var err error
		sessionID, err = internal.NewSessionID()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
		}
	}

	now := time.Now()
	rec := &session.Record{
		SessionID:         sessionID,
		UserID:            cred.UserID,
		TenantID:          cred.TenantID,
		Email:             cred.Email,
		DisplayName:       cred.DisplayName,
		Role:              cred.Role,
		State:             session.StateAuthenticated,
		Permissions:       perms,
		TwoFactorEnabled:  profile != nil && profile.Enabled,
		TwoFactorVerified: profile != nil && profile.Verified,
		CreatedAt:         now.Unix(),
		ExpiresAt:         now.Add(e.config.Session.TTL).Unix(),
	}

	if err := e.sessions.Save(ctx, rec, e.config.Session.TTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}

	outcome := &LoginOutcome{
		Kind:      OutcomeAuthenticated,
		SessionID: sessionID,
		User: &Identity{
			UserID:      cred.UserID,
			TenantID:    cred.TenantID,
			Email:       cred.Email,
			DisplayName: cred.DisplayName,
			Role:        cred.Role,
			Permissions: perms,
		},
	}

	if e.tokens != nil {
		signed, err := e.tokens.Issue(cred.UserID, cred.TenantID, sessionID, cred.Role)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
		}
		outcome.Token = signed
	}

	e.metrics.Inc(MetricSessionCreated)
	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, cred.UserID, cred.TenantID, sessionID, nil, nil)

	return outcome, nil
}

func (e *Engine) loadPermissionSnapshot(ctx context.Context, cred *Credential) []string {
	if e.permissions == nil {
		return nil
	}

	perms, err := e.permissions.Load(ctx, cred.UserID)
	if err != nil {
		log.Printf("authgate: permission snapshot load failed for user %s: %v", cred.UserID, err)
		e.metrics.Inc(MetricPermissionLoadFailed)
		e.emitAudit(ctx, auditEventPermissionLoadFailed, false, cred.UserID, cred.TenantID, "", err, nil)
		return nil
	}
	return perms
}
