// Package session stores login-flow state in Redis. A record represents one
// browser session moving through the login state machine; intermediate
// states (rotation, two-factor setup, two-factor verification) and the
// authenticated state share the same record slot, so starting a new step
// overwrites the previous one wholesale.
package session

// State is the position of a session in the login state machine.
type State uint8

const (
	// StateAuthenticated is a fully logged-in session.
	StateAuthenticated State = iota + 1
	// StatePendingRotation awaits a forced password rotation.
	StatePendingRotation
	// StatePendingTwoFactorSetup awaits second-factor enrollment.
	StatePendingTwoFactorSetup
	// StatePendingTwoFactorVerify awaits a second-factor proof.
	StatePendingTwoFactorVerify
)

func (s State) valid() bool {
	return s >= StateAuthenticated && s <= StatePendingTwoFactorVerify
}

// Record is one session's persisted state. It carries enough identity
// (email, display name, role) for a host to render a mid-login prompt
// without going back to the credential store.
//
// PendingSecret and PendingCodeHashes are populated only while the record is
// in StatePendingTwoFactorSetup and a setup challenge has been issued; they
// hold the candidate secret and backup-code hashes until the user confirms
// with a valid code, at which point they move to the credential store.
type Record struct {
	SessionID   string
	UserID      string
	TenantID    string
	Email       string
	DisplayName string
	Role        string

	State       State
	Permissions []string

	// TwoFactorEnabled and TwoFactorVerified mirror the user's two-factor
	// profile as of the moment the record was written.
	TwoFactorEnabled  bool
	TwoFactorVerified bool

	PendingSecret     []byte
	PendingCodeHashes [][32]byte

	CreatedAt int64
	ExpiresAt int64
}
