package authcore

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kestrelsec/authcore/internal/limiters"
	"github.com/kestrelsec/authcore/jwt"
	"github.com/kestrelsec/authcore/password"
	"github.com/kestrelsec/authcore/rbac"
	"github.com/kestrelsec/authcore/session"
)

// Builder assembles an Engine. Defaults cover everything except the three
// mandatory inputs: a Redis client, a user store and a signing key.
//
//	engine, err := authcore.NewBuilder().
//		WithRedis(rdb).
//		WithUserStore(users).
//		WithSigningKey(key).
//		WithRoles(roleTable).
//		Build()
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	userStore UserStore
	roles     map[string][]string
	auditSink AuditSink
	err       error
}

// NewBuilder starts a Builder with default configuration.
func NewBuilder() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig replaces the full configuration. Zero-valued sections keep
// their defaults only if the caller started from DefaultConfig.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// DefaultConfig returns the default configuration for callers that want to
// adjust a few fields before WithConfig.
func DefaultConfig() Config {
	return defaultConfig()
}

// WithRedis sets the Redis client backing sessions and the lockout counter.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the identity storage port.
func (b *Builder) WithUserStore(store UserStore) *Builder {
	b.userStore = store
	return b
}

// WithSigningKey sets the hs256 secret or ed25519 private key.
func (b *Builder) WithSigningKey(key []byte) *Builder {
	b.config.JWT.PrivateKey = cloneBytes(key)
	return b
}

// WithRoles sets the initial role-to-permission table. Replaceable at
// runtime through Engine.ReplaceRoles.
func (b *Builder) WithRoles(roles map[string][]string) *Builder {
	b.roles = roles
	return b
}

// WithAuditSink sets the destination for audit events. Without one, events
// are discarded even when auditing is enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// Build validates the configuration, wires the components and starts the
// expiry sweeper. The returned Engine must be Closed when no longer needed.
func (b *Builder) Build() (*Engine, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.redis == nil {
		return nil, errors.New("authcore: redis client is required")
	}
	if b.userStore == nil {
		return nil, errors.New("authcore: user store is required")
	}
	if err := b.config.Validate(); err != nil {
		return nil, fmt.Errorf("authcore: %w", err)
	}

	hasher, err := password.New(password.Config{
		Memory:      b.config.Password.Memory,
		Time:        b.config.Password.Time,
		Parallelism: b.config.Password.Parallelism,
		SaltLength:  b.config.Password.SaltLength,
		KeyLength:   b.config.Password.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("authcore: %w", err)
	}

	tokens, err := jwt.NewManager(jwt.Config{
		SigningMethod: b.config.JWT.SigningMethod,
		PrivateKey:    b.config.JWT.PrivateKey,
		PublicKey:     b.config.JWT.PublicKey,
		AccessTTL:     b.config.JWT.AccessTTL,
		RefreshTTL:    b.config.JWT.RefreshTTL,
		Issuer:        b.config.JWT.Issuer,
		Audience:      b.config.JWT.Audience,
		Leeway:        b.config.JWT.Leeway,
	})
	if err != nil {
		return nil, fmt.Errorf("authcore: %w", err)
	}

	sessions, err := session.NewStore(b.redis, session.Config{
		Prefix:   b.config.Session.RedisPrefix,
		Lifetime: b.config.Session.AbsoluteLifetime,
		Timeout:  b.config.Session.StorageTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("authcore: %w", err)
	}

	// The dummy digest keeps Login's cost uniform for unknown identifiers.
	dummyHash, err := hasher.Hash("authcore-timing-baseline")
	if err != nil {
		return nil, fmt.Errorf("authcore: %w", err)
	}

	e := &Engine{
		config:    cloneConfig(b.config),
		users:     b.userStore,
		hasher:    hasher,
		tokens:    tokens,
		sessions:  sessions,
		rbac:      rbac.NewResolver(b.roles),
		metrics:   NewMetrics(b.config.Metrics),
		audit:     newAuditDispatcher(b.config.Audit, b.auditSink),
		dummyHash: dummyHash,
	}

	if b.config.Lockout.Enabled {
		e.lockout = limiters.NewLockoutLimiter(b.redis, b.config.Session.RedisPrefix, limiters.LockoutConfig{
			Enabled:     true,
			MaxFailures: b.config.Lockout.MaxFailures,
			Window:      b.config.Lockout.Window,
		})
	}

	e.startSweeper()

	return e, nil
}
