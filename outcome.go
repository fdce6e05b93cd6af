package authgate

// OutcomeKind discriminates the states a login attempt can land in.
type OutcomeKind uint8

const (
	// OutcomeRejected is terminal: the attempt failed and no session exists.
	OutcomeRejected OutcomeKind = iota
	// OutcomeRotationRequired means the password matched but was issued as
	// temporary; the user must rotate it before anything else.
	OutcomeRotationRequired
	// OutcomeTwoFactorSetupRequired means the user's role mandates a second
	// factor and none is enrolled yet.
	OutcomeTwoFactorSetupRequired
	// OutcomeTwoFactorVerificationRequired means an enrolled second factor
	// must be verified to finish the login.
	OutcomeTwoFactorVerificationRequired
	// OutcomeAuthenticated is the fully logged-in terminal state.
	OutcomeAuthenticated
)

// Identity is the caller-visible projection of an authenticated user.
type Identity struct {
	UserID      string
	TenantID    string
	Email       string
	DisplayName string
	Role        string

	// Permissions is the snapshot loaded once at authentication time.
	// Changes made afterwards are not reflected until the next login.
	Permissions []string
}

// LoginOutcome is the tagged result of Login, RotatePassword,
// ConfirmTwoFactorSetup and VerifyTwoFactor.
//
// Reason is set only when Kind is OutcomeRejected and carries one of the
// sentinel rejection errors. SessionID is set for every non-rejected
// outcome. Token and User are set only when Kind is OutcomeAuthenticated.
type LoginOutcome struct {
	Kind      OutcomeKind
	Reason    error
	SessionID string
	Token     string
	User      *Identity
}

// Authenticated reports whether the outcome completed the login.
func (o *LoginOutcome) Authenticated() bool {
	return o != nil && o.Kind == OutcomeAuthenticated
}

// Pending reports whether the outcome requires a follow-up step.
func (o *LoginOutcome) Pending() bool {
	if o == nil {
		return false
	}
	switch o.Kind {
	case OutcomeRotationRequired, OutcomeTwoFactorSetupRequired, OutcomeTwoFactorVerificationRequired:
		return true
	default:
		return false
	}
}

func rejected(reason error) *LoginOutcome {
	return &LoginOutcome{Kind: OutcomeRejected, Reason: reason}
}
