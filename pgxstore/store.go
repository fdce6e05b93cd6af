// Package pgxstore implements authgate.CredentialStore and
// authgate.PermissionLoader on PostgreSQL via pgx.
//
// Expected schema:
//
//	CREATE TABLE users (
//	    id                 UUID PRIMARY KEY,
//	    tenant_id          TEXT NOT NULL DEFAULT '0',
//	    email              TEXT NOT NULL,
//	    display_name       TEXT NOT NULL DEFAULT '',
//	    password_hash      TEXT NOT NULL,
//	    status             SMALLINT NOT NULL DEFAULT 0,
//	    role               TEXT NOT NULL DEFAULT 'student',
//	    temporary_password BOOLEAN NOT NULL DEFAULT FALSE,
//	    UNIQUE (tenant_id, email)
//	);
//
//	CREATE TABLE two_factor_profiles (
//	    user_id  UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
//	    secret   BYTEA NOT NULL,
//	    enabled  BOOLEAN NOT NULL DEFAULT FALSE,
//	    verified BOOLEAN NOT NULL DEFAULT FALSE
//	);
//
//	CREATE TABLE backup_codes (
//	    user_id   UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
//	    code_hash BYTEA NOT NULL,
//	    PRIMARY KEY (user_id, code_hash)
//	);
//
//	CREATE TABLE user_permissions (
//	    user_id    UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
//	    permission TEXT NOT NULL,
//	    PRIMARY KEY (user_id, permission)
//	);
package pgxstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edusphere/authgate"
)

// Store holds the connection pool. It satisfies both authgate.CredentialStore
// and authgate.PermissionLoader.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an existing pool; the caller owns the pool lifecycle.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const credentialColumns = `id, tenant_id, email, display_name, password_hash, status, role, temporary_password`

// CreateUser inserts a credential row and returns its ID. An empty UserID is
// filled with a time-ordered UUID.
func (s *Store) CreateUser(ctx context.Context, cred authgate.Credential) (string, error) {
	if cred.UserID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("generate user id: %w", err)
		}
		cred.UserID = id.String()
	}
	if cred.TenantID == "" {
		cred.TenantID = "0"
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, tenant_id, email, display_name, password_hash, status, role, temporary_password)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		cred.UserID, cred.TenantID, cred.Email, cred.DisplayName,
		cred.PasswordHash, int16(cred.Status), cred.Role, cred.TemporaryPassword,
	)
	if err != nil {
		return "", fmt.Errorf("insert user: %w", err)
	}
	return cred.UserID, nil
}

// FindByEmail resolves a credential by normalized email within a tenant.
func (s *Store) FindByEmail(ctx context.Context, tenantID, email string) (*authgate.Credential, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM users WHERE tenant_id = $1 AND email = $2`,
		tenantID, email,
	)
	return scanCredential(row)
}

// FindByID resolves a credential by user ID.
func (s *Store) FindByID(ctx context.Context, userID string) (*authgate.Credential, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM users WHERE id = $1`,
		userID,
	)
	return scanCredential(row)
}

func scanCredential(row pgx.Row) (*authgate.Credential, error) {
	var (
		cred   authgate.Credential
		status int16
	)
	err := row.Scan(
		&cred.UserID,
		&cred.TenantID,
		&cred.Email,
		&cred.DisplayName,
		&cred.PasswordHash,
		&status,
		&cred.Role,
		&cred.TemporaryPassword,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authgate.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("query credential: %w", err)
	}
	cred.Status = authgate.AccountStatus(status)
	return &cred, nil
}

// UpdatePasswordHash replaces the stored hash.
func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2 WHERE id = $1`,
		userID, hash,
	)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authgate.ErrCredentialNotFound
	}
	return nil
}

// ClearTemporaryPassword clears the rotation-required flag.
func (s *Store) ClearTemporaryPassword(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET temporary_password = FALSE WHERE id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("clear temporary password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authgate.ErrCredentialNotFound
	}
	return nil
}

// GetTwoFactorProfile returns the profile with its backup code hashes, or
// nil when the user has never enrolled.
func (s *Store) GetTwoFactorProfile(ctx context.Context, userID string) (*authgate.TwoFactorProfile, error) {
	var profile authgate.TwoFactorProfile
	err := s.pool.QueryRow(ctx,
		`SELECT secret, enabled, verified FROM two_factor_profiles WHERE user_id = $1`,
		userID,
	).Scan(&profile.Secret, &profile.Enabled, &profile.Verified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query two-factor profile: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT code_hash FROM backup_codes WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query backup codes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan backup code: %w", err)
		}
		if len(raw) != 32 {
			continue
		}
		var hash [32]byte
		copy(hash[:], raw)
		profile.BackupCodeHashes = append(profile.BackupCodeHashes, hash)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backup codes: %w", err)
	}

	return &profile, nil
}

// SaveTwoFactorProfile replaces the profile and its backup codes wholesale
// in one transaction. A zero-value profile disables the second factor and
// removes everything.
func (s *Store) SaveTwoFactorProfile(ctx context.Context, userID string, profile authgate.TwoFactorProfile) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin two-factor save: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear backup codes: %w", err)
	}

	if !profile.Enabled && len(profile.Secret) == 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM two_factor_profiles WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("delete two-factor profile: %w", err)
		}
		return tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO two_factor_profiles (user_id, secret, enabled, verified)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE SET secret = $2, enabled = $3, verified = $4`,
		userID, profile.Secret, profile.Enabled, profile.Verified,
	)
	if err != nil {
		return fmt.Errorf("upsert two-factor profile: %w", err)
	}

	for _, hash := range profile.BackupCodeHashes {
		if _, err := tx.Exec(ctx,
			`INSERT INTO backup_codes (user_id, code_hash) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			userID, hash[:],
		); err != nil {
			return fmt.Errorf("insert backup code: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// ConsumeBackupCode deletes the matching code row. The single DELETE is the
// uniqueness guarantee: two concurrent redemptions race on the row and
// exactly one sees RowsAffected == 1.
func (s *Store) ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM backup_codes WHERE user_id = $1 AND code_hash = $2`,
		userID, hash[:],
	)
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Load returns the user's permission names, sorted for stable snapshots.
func (s *Store) Load(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT permission FROM user_permissions WHERE user_id = $1 ORDER BY permission`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query permissions: %w", err)
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permissions: %w", err)
	}

	return perms, nil
}
