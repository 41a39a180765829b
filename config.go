package authcore

import (
	"errors"
	"time"
)

// Config holds every policy parameter the engine consumes. It is passed in
// at construction and never read from global state; instances are treated
// as immutable after Build.
type Config struct {
	JWT      JWTConfig
	Session  SessionConfig
	Password PasswordConfig
	Lockout  LockoutConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token minting and verification.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session persistence and the expiry sweeper.
type SessionConfig struct {
	RedisPrefix      string
	AbsoluteLifetime time.Duration
	StorageTimeout   time.Duration
	SweepInterval    time.Duration
	SweepBatchSize   int
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the argon2id work factors.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// LockoutConfig controls the consecutive-failure account lockout policy.
// After MaxFailures failed logins within Window, the account transitions
// to [AccountLocked].
type LockoutConfig struct {
	Enabled     bool
	MaxFailures int
	Window      time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process metrics registry.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    24 * time.Hour,
			SigningMethod: "hs256",
		},
		Session: SessionConfig{
			RedisPrefix:      "ac",
			AbsoluteLifetime: 7 * 24 * time.Hour,
			StorageTimeout:   2 * time.Second,
			SweepInterval:    time.Minute,
			SweepBatchSize:   256,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Lockout: LockoutConfig{
			Enabled:     true,
			MaxFailures: 5,
			Window:      15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate enforces the token-lifetime ordering invariant
// (access < refresh < absolute session lifetime) and rejects unusable
// parameter combinations before the engine is built.
func (c Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT.AccessTTL must be positive")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT.RefreshTTL must exceed JWT.AccessTTL")
	}
	if c.Session.AbsoluteLifetime <= c.JWT.RefreshTTL {
		return errors.New("Session.AbsoluteLifetime must exceed JWT.RefreshTTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT.Leeway out of range")
	}
	if c.Session.StorageTimeout <= 0 {
		return errors.New("Session.StorageTimeout must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		return errors.New("Session.SweepInterval must be positive")
	}
	if c.Session.SweepBatchSize <= 0 {
		return errors.New("Session.SweepBatchSize must be positive")
	}
	if c.Lockout.Enabled {
		if c.Lockout.MaxFailures <= 0 {
			return errors.New("Lockout.MaxFailures must be positive when lockout is enabled")
		}
		if c.Lockout.Window <= 0 {
			return errors.New("Lockout.Window must be positive when lockout is enabled")
		}
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
