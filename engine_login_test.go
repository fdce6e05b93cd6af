package authgate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/edusphere/authgate/session"
)

func TestLoginUnknownEmailAndWrongPasswordShareMessage(t *testing.T) {
	store := newMockStore(activeStudent(t, "correct-password"))
	engine := newTestEngine(t, store, nil)
	ctx := context.Background()

	unknown, err := engine.Login(ctx, "nobody@example.com", "whatever-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	wrong, err := engine.Login(ctx, "student@example.com", "wrong-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	for _, outcome := range []*LoginOutcome{unknown, wrong} {
		if outcome.Kind != OutcomeRejected {
			t.Fatalf("expected rejection, got kind %d", outcome.Kind)
		}
		if !errors.Is(outcome.Reason, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", outcome.Reason)
		}
	}
	if unknown.Reason.Error() != wrong.Reason.Error() {
		t.Fatalf("messages differ: %q vs %q", unknown.Reason, wrong.Reason)
	}
}

func TestLoginEmptyInputRejected(t *testing.T) {
	store := newMockStore(activeStudent(t, "correct-password"))
	engine := newTestEngine(t, store, nil)
	ctx := context.Background()

	for _, tc := range [][2]string{
		{"", "correct-password"},
		{"student@example.com", ""},
		{"   ", ""},
	} {
		outcome, err := engine.Login(ctx, tc[0], tc[1])
		if err != nil {
			t.Fatalf("login: %v", err)
		}
		if outcome.Kind != OutcomeRejected || !errors.Is(outcome.Reason, ErrInvalidCredentials) {
			t.Fatalf("expected invalid credentials for %q/%q, got %+v", tc[0], tc[1], outcome)
		}
	}
}

func TestLoginNormalizesEmail(t *testing.T) {
	store := newMockStore(activeStudent(t, "correct-password"))
	engine := newTestEngine(t, store, nil)

	outcome, err := engine.Login(context.Background(), "  Student@Example.COM  ", "correct-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !outcome.Authenticated() {
		t.Fatalf("expected authentication, got kind %d", outcome.Kind)
	}
}

func TestLoginStatusMessagesOnlyAfterPasswordMatch(t *testing.T) {
	inactive := activeStudent(t, "correct-password")
	inactive.Status = StatusInactive
	banned := activeAdmin(t, "correct-password")
	banned.Status = StatusBanned
	banned.Email = "banned@example.com"
	store := newMockStore(inactive, banned)
	engine := newTestEngine(t, store, nil)
	ctx := context.Background()

	// Wrong password on a non-active account must not reveal the status.
	outcome, err := engine.Login(ctx, "student@example.com", "wrong-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !errors.Is(outcome.Reason, ErrInvalidCredentials) {
		t.Fatalf("expected generic rejection, got %v", outcome.Reason)
	}

	outcome, err = engine.Login(ctx, "student@example.com", "correct-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !errors.Is(outcome.Reason, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", outcome.Reason)
	}

	outcome, err = engine.Login(ctx, "banned@example.com", "correct-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !errors.Is(outcome.Reason, ErrAccountBanned) {
		t.Fatalf("expected ErrAccountBanned, got %v", outcome.Reason)
	}
}

func TestLoginStoreFailureFailsClosed(t *testing.T) {
	store := newMockStore(activeStudent(t, "correct-password"))
	store.failLookups = true
	engine := newTestEngine(t, store, nil)

	outcome, err := engine.Login(context.Background(), "student@example.com", "correct-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if outcome.Kind != OutcomeRejected || !errors.Is(outcome.Reason, ErrInvalidCredentials) {
		t.Fatalf("expected generic rejection on store failure, got %+v", outcome)
	}
}

func TestLoginUpgradesLegacyPlaintext(t *testing.T) {
	legacy := activeStudent(t, "ignored")
	legacy.PasswordHash = "plain-secret-123"
	store := newMockStore(legacy)
	engine := newTestEngine(t, store, nil)
	ctx := context.Background()

	outcome, err := engine.Login(ctx, "student@example.com", "plain-secret-123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !outcome.Authenticated() {
		t.Fatalf("expected authentication, got kind %d", outcome.Kind)
	}

	stored := store.passwordHash(t, "u-student")
	if !strings.HasPrefix(stored, "$2") {
		t.Fatalf("expected bcrypt hash after upgrade, got %q", stored)
	}

	// Same password keeps working against the upgraded hash.
	outcome, err = engine.Login(ctx, "student@example.com", "plain-secret-123")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if !outcome.Authenticated() {
		t.Fatalf("expected authentication after upgrade, got kind %d", outcome.Kind)
	}
}

func TestLoginUpgradeFailureDoesNotBlockLogin(t *testing.T) {
	legacy := activeStudent(t, "ignored")
	legacy.PasswordHash = "plain-secret-123"
	store := newMockStore(legacy)
	store.failUpdates = true
	engine := newTestEngine(t, store, nil)

	outcome, err := engine.Login(context.Background(), "student@example.com", "plain-secret-123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !outcome.Authenticated() {
		t.Fatalf("expected authentication despite failed upgrade, got kind %d", outcome.Kind)
	}
	if store.passwordHash(t, "u-student") != "plain-secret-123" {
		t.Fatalf("hash should be unchanged after failed upgrade")
	}
	if engine.Metrics().Value(MetricPasswordUpgradeFailed) != 1 {
		t.Fatalf("expected one upgrade failure metric")
	}
}

func TestLoginTemporaryPasswordForcesRotation(t *testing.T) {
	temp := activeStudent(t, "temp-password-1")
	temp.TemporaryPassword = true
	store := newMockStore(temp)
	engine := newTestEngine(t, store, nil)
	ctx := context.Background()

	outcome, err := engine.Login(ctx, "student@example.com", "temp-password-1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if outcome.Kind != OutcomeRotationRequired {
		t.Fatalf("expected rotation required, got kind %d", outcome.Kind)
	}
	if outcome.SessionID == "" {
		t.Fatalf("expected session id")
	}

	rec, err := engine.Session(ctx, outcome.SessionID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if rec.State != session.StatePendingRotation {
		t.Fatalf("expected pending rotation state, got %d", rec.State)
	}
	if len(rec.Permissions) != 0 {
		t.Fatalf("pending record must not carry permissions")
	}
	if rec.DisplayName != "Sample Student" {
		t.Fatalf("pending record must carry the display name, got %q", rec.DisplayName)
	}
}

func TestSessionRecordCarriesIdentityAndTwoFactorState(t *testing.T) {
	store := newMockStore(activeAdmin(t, "correct-password"), activeStudent(t, "correct-password"))
	profile, _, _ := enrolledProfile(t, "u-admin")
	store.profiles["u-admin"] = profile
	engine := newTestEngine(t, store, nil)
	ctx := context.Background()

	// Verification-pending record shows who is mid-login and that a verified
	// second factor is enrolled.
	outcome, err := engine.Login(ctx, "admin@example.com", "correct-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	rec, err := engine.Session(ctx, outcome.SessionID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if rec.DisplayName != "Sample Admin" || rec.Email != "admin@example.com" {
		t.Fatalf("pending record identity mismatch: %+v", rec)
	}
	if !rec.TwoFactorEnabled || !rec.TwoFactorVerified {
		t.Fatalf("pending record must reflect the enrolled profile, got %+v", rec)
	}

	// A student with no profile authenticates directly with both flags clear.
	outcome, err = engine.Login(ctx, "student@example.com", "correct-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	rec, err = engine.Session(ctx, outcome.SessionID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if rec.DisplayName != "Sample Student" {
		t.Fatalf("authenticated record must carry the display name, got %q", rec.DisplayName)
	}
	if rec.TwoFactorEnabled || rec.TwoFactorVerified {
		t.Fatalf("expected clear two-factor flags, got %+v", rec)
	}
}

func TestLoginAdminWithoutProfileNeedsSetup(t *testing.T) {
	store := newMockStore(activeAdmin(t, "correct-password"))
	engine := newTestEngine(t, store, nil)

	outcome, err := engine.Login(context.Background(), "admin@example.com", "correct-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if outcome.Kind != OutcomeTwoFactorSetupRequired {
		t.Fatalf("expected setup required, got kind %d", outcome.Kind)
	}
}

func TestLoginAdminWithProfileNeedsVerification(t *testing.T) {
	store := newMockStore(activeAdmin(t, "correct-password"))
	profile, _, _ := enrolledProfile(t, "u-admin")
	store.profiles["u-admin"] = profile
	engine := newTestEngine(t, store, nil)

	outcome, err := engine.Login(context.Background(), "admin@example.com", "correct-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if outcome.Kind != OutcomeTwoFactorVerificationRequired {
		t.Fatalf("expected verification required, got kind %d", outcome.Kind)
	}
}

func TestLoginUnverifiedProfileStillNeedsSetup(t *testing.T) {
	store := newMockStore(activeAdmin(t, "correct-password"))
	profile, _, _ := enrolledProfile(t, "u-admin")
	profile.Verified = false
	store.profiles["u-admin"] = profile
	engine := newTestEngine(t, store, nil)

	outcome, err := engine.Login(context.Background(), "admin@example.com", "correct-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if outcome.Kind != OutcomeTwoFactorSetupRequired {
		t.Fatalf("expected setup required for unverified profile, got kind %d", outcome.Kind)
	}
}

func TestLoginLoadsPermissionSnapshotOnce(t *testing.T) {
	store := newMockStore(activeStudent(t, "correct-password"))
	loads := 0
	cfg := defaultConfig()
	cfg.Password.BcryptCost = 4

	engine, err := New().
		WithConfig(cfg).
		WithRedis(newTestRedis(t)).
		WithCredentialStore(store).
		WithPermissionLoader(PermissionLoaderFunc(func(_ context.Context, userID string) ([]string, error) {
			loads++
			return []string{"courses:view", "forum:post"}, nil
		})).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)

	ctx := context.Background()
	outcome, err := engine.Login(ctx, "student@example.com", "correct-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !outcome.Authenticated() {
		t.Fatalf("expected authentication, got kind %d", outcome.Kind)
	}
	if loads != 1 {
		t.Fatalf("expected exactly one snapshot load, got %d", loads)
	}
	if len(outcome.User.Permissions) != 2 {
		t.Fatalf("expected 2 permissions, got %v", outcome.User.Permissions)
	}

	rec, err := engine.Session(ctx, outcome.SessionID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if len(rec.Permissions) != 2 {
		t.Fatalf("expected snapshot in session record, got %v", rec.Permissions)
	}
	if loads != 1 {
		t.Fatalf("session read must not reload permissions")
	}
}

func TestLoginPermissionLoaderFailureYieldsEmptySnapshot(t *testing.T) {
	store := newMockStore(activeStudent(t, "correct-password"))
	cfg := defaultConfig()
	cfg.Password.BcryptCost = 4

	engine, err := New().
		WithConfig(cfg).
		WithRedis(newTestRedis(t)).
		WithCredentialStore(store).
		WithPermissionLoader(PermissionLoaderFunc(func(context.Context, string) ([]string, error) {
			return nil, errors.New("loader down")
		})).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)

	outcome, err := engine.Login(context.Background(), "student@example.com", "correct-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !outcome.Authenticated() {
		t.Fatalf("loader failure must not block login, got kind %d", outcome.Kind)
	}
	if len(outcome.User.Permissions) != 0 {
		t.Fatalf("expected empty snapshot, got %v", outcome.User.Permissions)
	}
	if engine.Metrics().Value(MetricPermissionLoadFailed) != 1 {
		t.Fatalf("expected permission load failure metric")
	}
}

func TestLoginIssuesTokenWhenEnabled(t *testing.T) {
	store := newMockStore(activeStudent(t, "correct-password"))
	engine := newTestEngine(t, store, func(cfg *Config) {
		cfg.Token.Enabled = true
		cfg.Token.PrivateKey = []byte("test-signing-secret")
		cfg.Token.Issuer = "edusphere"
	})

	outcome, err := engine.Login(context.Background(), "student@example.com", "correct-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !outcome.Authenticated() {
		t.Fatalf("expected authentication, got kind %d", outcome.Kind)
	}
	if outcome.Token == "" {
		t.Fatalf("expected a signed token on the outcome")
	}
	if !strings.HasPrefix(outcome.Token, "eyJ") {
		t.Fatalf("unexpected token form %q", outcome.Token)
	}
}

func TestNewLoginOverwritesPendingState(t *testing.T) {
	store := newMockStore(activeAdmin(t, "correct-password"))
	engine := newTestEngine(t, store, nil)
	ctx := context.Background()

	first, err := engine.Login(ctx, "admin@example.com", "correct-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := engine.BeginTwoFactorSetup(ctx, first.SessionID); err != nil {
		t.Fatalf("begin setup: %v", err)
	}

	// A fresh login starts a new session; the old one remains retrievable
	// but a repeated setup call on the new session issues fresh material.
	second, err := engine.Login(ctx, "admin@example.com", "correct-password")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if second.SessionID == first.SessionID {
		t.Fatalf("expected distinct session ids")
	}

	setupA, err := engine.BeginTwoFactorSetup(ctx, second.SessionID)
	if err != nil {
		t.Fatalf("begin setup: %v", err)
	}
	setupB, err := engine.BeginTwoFactorSetup(ctx, second.SessionID)
	if err != nil {
		t.Fatalf("repeat setup: %v", err)
	}
	if setupA.SecretBase32 == setupB.SecretBase32 {
		t.Fatalf("repeated setup must replace the challenge")
	}

	// Only the latest challenge can confirm.
	code := codeForOffset(t, setupB.Secret, 0)
	outcome, err := engine.ConfirmTwoFactorSetup(ctx, second.SessionID, code)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !outcome.Authenticated() {
		t.Fatalf("expected authentication, got kind %d", outcome.Kind)
	}
}

func TestLogout(t *testing.T) {
	store := newMockStore(activeStudent(t, "correct-password"))
	engine := newTestEngine(t, store, nil)
	ctx := context.Background()

	outcome, err := engine.Login(ctx, "student@example.com", "correct-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := engine.Logout(ctx, outcome.SessionID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := engine.Session(ctx, outcome.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after logout, got %v", err)
	}
	if err := engine.Logout(ctx, outcome.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on repeat logout, got %v", err)
	}
}

func TestLogoutAll(t *testing.T) {
	store := newMockStore(activeStudent(t, "correct-password"))
	engine := newTestEngine(t, store, nil)
	ctx := context.Background()

	first, err := engine.Login(ctx, "student@example.com", "correct-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	second, err := engine.Login(ctx, "student@example.com", "correct-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	removed, err := engine.LogoutAll(ctx, "u-student")
	if err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 sessions removed, got %d", removed)
	}
	for _, sid := range []string{first.SessionID, second.SessionID} {
		if _, err := engine.Session(ctx, sid); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected session %s gone, got %v", sid, err)
		}
	}
}
