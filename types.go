package authgate

import "context"

// AccountStatus mirrors the lifecycle states a credential row can be in.
type AccountStatus uint8

const (
	// StatusActive allows login.
	StatusActive AccountStatus = iota
	// StatusInactive blocks login with a deactivation message.
	StatusInactive
	// StatusBanned blocks login with a ban message.
	StatusBanned
)

// Credential is the stored identity the engine authenticates against.
//
// PasswordHash holds either a bcrypt hash or, for rows predating the hash
// migration, the legacy plaintext value. The engine upgrades legacy rows in
// place on the first successful login.
type Credential struct {
	UserID      string
	TenantID    string
	Email       string
	DisplayName string

	PasswordHash string
	Status       AccountStatus
	Role         string

	// TemporaryPassword marks an admin-issued credential that must be
	// rotated before the user can proceed.
	TemporaryPassword bool
}

// TwoFactorProfile is the per-user second-factor state.
//
// Enabled and Verified are distinct: a profile is Enabled when a secret has
// been stored and Verified once the user has proven possession of the
// authenticator. Login treats anything short of enabled-and-verified as
// not configured.
type TwoFactorProfile struct {
	Secret   []byte
	Enabled  bool
	Verified bool

	// BackupCodeHashes are sha256(userID || 0x00 || canonical code). The
	// plaintext codes are never persisted.
	BackupCodeHashes [][32]byte
}

// CredentialStore is the persistence boundary the host application implements.
// Every method receives the request context; implementations are expected to
// honor cancellation.
type CredentialStore interface {
	// FindByEmail resolves a credential by normalized email within a tenant.
	// Returns ErrCredentialNotFound when no row matches.
	FindByEmail(ctx context.Context, tenantID, email string) (*Credential, error)

	// FindByID resolves a credential by user ID.
	// Returns ErrCredentialNotFound when no row matches.
	FindByID(ctx context.Context, userID string) (*Credential, error)

	// UpdatePasswordHash replaces the stored hash for a user.
	UpdatePasswordHash(ctx context.Context, userID, hash string) error

	// ClearTemporaryPassword clears the rotation-required flag.
	ClearTemporaryPassword(ctx context.Context, userID string) error

	// GetTwoFactorProfile returns the user's profile, or nil when none exists.
	GetTwoFactorProfile(ctx context.Context, userID string) (*TwoFactorProfile, error)

	// SaveTwoFactorProfile stores the profile wholesale, replacing any
	// previous secret and backup code hashes.
	SaveTwoFactorProfile(ctx context.Context, userID string, profile TwoFactorProfile) error

	// ConsumeBackupCode atomically removes the code matching hash and reports
	// whether it existed. Implementations must guarantee a given code can be
	// consumed at most once, even under concurrent redemption.
	ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error)
}

// PermissionLoader resolves the permission snapshot frozen into a session at
// the moment it becomes authenticated.
type PermissionLoader interface {
	Load(ctx context.Context, userID string) ([]string, error)
}

// PermissionLoaderFunc adapts a function to the PermissionLoader interface.
type PermissionLoaderFunc func(ctx context.Context, userID string) ([]string, error)

// Load calls f.
func (f PermissionLoaderFunc) Load(ctx context.Context, userID string) ([]string, error) {
	return f(ctx, userID)
}

// TwoFactorSetup is the material handed to the user exactly once during
// enrollment. BackupCodes contains the formatted plaintext codes; only their
// hashes survive the setup confirmation.
type TwoFactorSetup struct {
	Secret          []byte
	SecretBase32    string
	ProvisioningURI string
	BackupCodes     []string
}
