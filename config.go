package authgate

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Config is the full engine configuration tree. Construct it from
// DefaultConfig and override what the deployment needs; the Builder clones
// it so later mutation has no effect on a built Engine.
type Config struct {
	Session   SessionConfig
	TOTP      TOTPConfig
	Password  PasswordConfig
	TwoFactor TwoFactorConfig
	Token     TokenConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

type SessionConfig struct {
	RedisPrefix string
	// TTL applies to authenticated session records.
	TTL time.Duration
	// PendingTTL applies to rotation and two-factor intermediate records.
	// Kept deliberately shorter than TTL so abandoned prompts expire fast.
	PendingTTL time.Duration
}

/*
====================================
TOTP CONFIG
====================================
*/

type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Algorithm string // "SHA1" (default), "SHA256", "SHA512"
	// LoginSkew is the ± step tolerance during login verification.
	LoginSkew int
	// SetupSkew is the ± step tolerance during enrollment confirmation.
	// Wider than LoginSkew to absorb first-scan clock drift.
	SetupSkew int
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	BcryptCost int
	MinLength  int
	// UpgradeOnLogin rehashes legacy plaintext rows after a successful match.
	UpgradeOnLogin bool
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

type TwoFactorConfig struct {
	// RequiredRoles lists the roles that cannot finish login without a
	// second factor.
	RequiredRoles []string

	BackupCodeCount  int
	BackupCodeLength int
}

/*
====================================
TOKEN CONFIG
====================================
*/

type TokenConfig struct {
	// Enabled controls whether authenticated outcomes carry a signed token.
	Enabled       bool
	TTL           time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the documented defaults. Callers typically take this
// and override the Redis prefix, token keys, and required roles.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			RedisPrefix: "ag",
			TTL:         24 * time.Hour,
			PendingTTL:  10 * time.Minute,
		},
		TOTP: TOTPConfig{
			Issuer:    "edusphere",
			Digits:    6,
			Period:    30,
			Algorithm: "SHA1",
			LoginSkew: 1,
			SetupSkew: 2,
		},
		Password: PasswordConfig{
			BcryptCost:     bcrypt.DefaultCost,
			MinLength:      8,
			UpgradeOnLogin: true,
		},
		TwoFactor: TwoFactorConfig{
			RequiredRoles:    []string{"admin", "instructor"},
			BackupCodeCount:  10,
			BackupCodeLength: 8,
		},
		Token: TokenConfig{
			Enabled:       false,
			TTL:           15 * time.Minute,
			SigningMethod: "hs256",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.TwoFactor.RequiredRoles = append([]string(nil), cfg.TwoFactor.RequiredRoles...)
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Session.RedisPrefix == "" {
		return errors.New("session redis prefix must not be empty")
	}
	if c.Session.TTL <= 0 {
		return errors.New("session ttl must be positive")
	}
	if c.Session.PendingTTL <= 0 {
		return errors.New("session pending ttl must be positive")
	}
	if c.Session.PendingTTL > c.Session.TTL {
		return errors.New("session pending ttl must not exceed session ttl")
	}

	if c.TOTP.Digits < 6 || c.TOTP.Digits > 8 {
		return errors.New("totp digits must be between 6 and 8")
	}
	if c.TOTP.Period < 15 || c.TOTP.Period > 120 {
		return errors.New("totp period must be between 15 and 120 seconds")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("totp algorithm must be SHA1, SHA256 or SHA512")
	}
	if c.TOTP.LoginSkew < 0 || c.TOTP.LoginSkew > 4 {
		return errors.New("totp login skew must be between 0 and 4")
	}
	if c.TOTP.SetupSkew < c.TOTP.LoginSkew {
		return errors.New("totp setup skew must be at least the login skew")
	}
	if c.TOTP.SetupSkew > 8 {
		return errors.New("totp setup skew must be at most 8")
	}
	if c.TOTP.Issuer == "" {
		return errors.New("totp issuer must not be empty")
	}

	if c.Password.BcryptCost < bcrypt.MinCost || c.Password.BcryptCost > bcrypt.MaxCost {
		return errors.New("bcrypt cost out of range")
	}
	if c.Password.MinLength < 8 {
		return errors.New("password minimum length must be at least 8")
	}

	if c.TwoFactor.BackupCodeCount < 1 || c.TwoFactor.BackupCodeCount > 32 {
		return errors.New("backup code count must be between 1 and 32")
	}
	if c.TwoFactor.BackupCodeLength < 8 || c.TwoFactor.BackupCodeLength > 16 {
		return errors.New("backup code length must be between 8 and 16")
	}
	for _, role := range c.TwoFactor.RequiredRoles {
		if strings.TrimSpace(role) == "" {
			return errors.New("two-factor required roles must not contain empty entries")
		}
	}

	if c.Token.Enabled {
		if c.Token.TTL <= 0 {
			return errors.New("token ttl must be positive when tokens are enabled")
		}
		switch strings.ToLower(c.Token.SigningMethod) {
		case "", "hs256", "ed25519":
		default:
			return errors.New("token signing method must be hs256 or ed25519")
		}
		if len(c.Token.PrivateKey) == 0 {
			return errors.New("token private key required when tokens are enabled")
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("audit buffer size must be positive when audit is enabled")
	}

	return nil
}
