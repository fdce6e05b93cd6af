package authgate

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/edusphere/authgate/password"
	"github.com/edusphere/authgate/session"
	"github.com/edusphere/authgate/token"
)

// Builder assembles an Engine from its collaborators. A Builder is single
// use; Build fails on the second call.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	credentials CredentialStore
	permissions PermissionLoader
	auditSink   AuditSink

	built bool
}

// New returns a Builder seeded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration. The value is cloned.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing the session store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore sets the credential persistence implementation.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.credentials = store
	return b
}

// WithPermissionLoader sets the permission snapshot source.
func (b *Builder) WithPermissionLoader(loader PermissionLoader) *Builder {
	b.permissions = loader
	return b
}

// WithAuditSink sets the destination for audit events.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles the in-process metric counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.credentials == nil {
		return nil, errors.New("credential store required")
	}
	if b.permissions == nil {
		return nil, errors.New("permission loader required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(cfg.Password.BcryptCost)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:      cfg,
		credentials: b.credentials,
		permissions: b.permissions,
		sessions:    session.NewStore(b.redis, cfg.Session.RedisPrefix),
		hasher:      hasher,
		totp:        newTOTPManager(cfg.TOTP),
		audit:       newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:     NewMetrics(cfg.Metrics),
	}

	if cfg.Token.Enabled {
		tm, err := token.NewManager(token.Config{
			TTL:           cfg.Token.TTL,
			SigningMethod: token.SigningMethod(cfg.Token.SigningMethod),
			PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
			PublicKey:     cloneBytes(cfg.Token.PublicKey),
			Issuer:        cfg.Token.Issuer,
		})
		if err != nil {
			return nil, err
		}
		engine.tokens = tm
	}

	b.built = true

	return engine, nil
}
