// Package password hashes and verifies login passwords. Stored values are
// bcrypt hashes; values without a bcrypt prefix are treated as legacy
// plaintext from the pre-migration data set and flagged for upgrade on a
// successful match.
package password

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Result reports the outcome of a verification.
type Result struct {
	Matched bool
	// NeedsUpgrade is true when the stored value matched but is not a
	// current bcrypt hash and should be rehashed.
	NeedsUpgrade bool
}

// Hasher wraps bcrypt with a fixed cost.
type Hasher struct {
	cost int
}

// NewHasher validates cost and returns a Hasher.
func NewHasher(cost int) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, errors.New("bcrypt cost out of range")
	}
	return &Hasher{cost: cost}, nil
}

// Hash returns a bcrypt hash of the raw password bytes (no Unicode
// normalization is applied).
func (h *Hasher) Hash(plain string) (string, error) {
	if plain == "" {
		return "", errors.New("empty password")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify compares plain against the stored value. Any bcrypt library error
// degrades to not-matched; verification fails closed and never guesses.
func (h *Hasher) Verify(plain, stored string) Result {
	if plain == "" || stored == "" {
		return Result{}
	}

	if isBcryptHash(stored) {
		if err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(plain)); err != nil {
			return Result{}
		}
		return Result{Matched: true}
	}

	// Legacy plaintext row. Constant-time compare, then upgrade.
	if subtle.ConstantTimeCompare([]byte(plain), []byte(stored)) == 1 {
		return Result{Matched: true, NeedsUpgrade: true}
	}
	return Result{}
}

func isBcryptHash(stored string) bool {
	return strings.HasPrefix(stored, "$2a$") ||
		strings.HasPrefix(stored, "$2b$") ||
		strings.HasPrefix(stored, "$2y$")
}
