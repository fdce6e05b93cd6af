package authgate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/edusphere/authgate/password"
)

type mockStore struct {
	mu       sync.Mutex
	users    map[string]*Credential
	profiles map[string]*TwoFactorProfile

	failLookups bool
	failUpdates bool
}

func newMockStore(users ...*Credential) *mockStore {
	s := &mockStore{
		users:    make(map[string]*Credential),
		profiles: make(map[string]*TwoFactorProfile),
	}
	for _, u := range users {
		clone := *u
		s.users[u.UserID] = &clone
	}
	return s
}

var errMockStore = errors.New("mock store failure")

func (s *mockStore) FindByEmail(_ context.Context, tenantID, email string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLookups {
		return nil, errMockStore
	}
	for _, u := range s.users {
		if u.TenantID == tenantID && u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, ErrCredentialNotFound
}

func (s *mockStore) FindByID(_ context.Context, userID string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLookups {
		return nil, errMockStore
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	clone := *u
	return &clone, nil
}

func (s *mockStore) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdates {
		return errMockStore
	}
	u, ok := s.users[userID]
	if !ok {
		return ErrCredentialNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (s *mockStore) ClearTemporaryPassword(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdates {
		return errMockStore
	}
	u, ok := s.users[userID]
	if !ok {
		return ErrCredentialNotFound
	}
	u.TemporaryPassword = false
	return nil
}

func (s *mockStore) GetTwoFactorProfile(_ context.Context, userID string) (*TwoFactorProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	clone := *p
	clone.BackupCodeHashes = append([][32]byte(nil), p.BackupCodeHashes...)
	return &clone, nil
}

func (s *mockStore) SaveTwoFactorProfile(_ context.Context, userID string, profile TwoFactorProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdates {
		return errMockStore
	}
	s.profiles[userID] = &profile
	return nil
}

func (s *mockStore) ConsumeBackupCode(_ context.Context, userID string, hash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return false, nil
	}
	for i, h := range p.BackupCodeHashes {
		if h == hash {
			p.BackupCodeHashes = append(p.BackupCodeHashes[:i], p.BackupCodeHashes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *mockStore) passwordHash(t *testing.T, userID string) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		t.Fatalf("unknown user %s", userID)
	}
	return u.PasswordHash
}

type mockPermissions struct {
	perms map[string][]string
	err   error
}

func (m *mockPermissions) Load(_ context.Context, userID string) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.perms[userID], nil
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newTestEngine(t *testing.T, store *mockStore, mutate func(*Config)) *Engine {
	t.Helper()

	cfg := defaultConfig()
	// Low cost keeps the suite fast.
	cfg.Password.BcryptCost = 4
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(newTestRedis(t)).
		WithCredentialStore(store).
		WithPermissionLoader(&mockPermissions{perms: map[string][]string{}}).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func hashedPassword(t *testing.T, plain string) string {
	t.Helper()
	hasher, err := password.NewHasher(4)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	hashed, err := hasher.Hash(plain)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return hashed
}

func activeStudent(t *testing.T, plain string) *Credential {
	t.Helper()
	return &Credential{
		UserID:       "u-student",
		TenantID:     "0",
		Email:        "student@example.com",
		DisplayName:  "Sample Student",
		PasswordHash: hashedPassword(t, plain),
		Status:       StatusActive,
		Role:         "student",
	}
}

func activeAdmin(t *testing.T, plain string) *Credential {
	t.Helper()
	return &Credential{
		UserID:       "u-admin",
		TenantID:     "0",
		Email:        "admin@example.com",
		DisplayName:  "Sample Admin",
		PasswordHash: hashedPassword(t, plain),
		Status:       StatusActive,
		Role:         "admin",
	}
}

// codeForOffset computes the TOTP value offset steps away from now for the
// default 6-digit SHA1 configuration.
func codeForOffset(t *testing.T, secret []byte, offset int64) string {
	t.Helper()
	counter := time.Now().Unix()/30 + offset
	code, err := hotpCode(secret, counter, 6, "SHA1")
	if err != nil {
		t.Fatalf("hotp: %v", err)
	}
	return code
}

// wrongCodeFor derives a code guaranteed to differ from valid in every digit.
func wrongCodeFor(valid string) string {
	out := []byte(valid)
	for i := range out {
		out[i] = '0' + (out[i]-'0'+1)%10
	}
	return string(out)
}

func enrolledProfile(t *testing.T, userID string) (*TwoFactorProfile, []byte, []string) {
	t.Helper()
	secret := []byte("12345678901234567890")
	codes, hashes, err := generateBackupCodes(userID, 10, 8)
	if err != nil {
		t.Fatalf("backup codes: %v", err)
	}
	return &TwoFactorProfile{
		Secret:           secret,
		Enabled:          true,
		Verified:         true,
		BackupCodeHashes: hashes,
	}, secret, codes
}
