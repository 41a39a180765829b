// Package jwt mints and parses the signed access and refresh tokens issued
// by the engine. Both token kinds are JWTs that carry a typ claim; parsing
// enforces the expected kind so an access token can never be replayed into
// the refresh path or vice versa.
package jwt

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// TokenType discriminates the two token kinds on the wire.
type TokenType string

const (
	// TypeAccess marks short-lived bearer tokens presented on every request.
	TypeAccess TokenType = "access"
	// TypeRefresh marks single-use tokens presented only to the refresh path.
	TypeRefresh TokenType = "refresh"
)

const (
	// MethodHS256 selects HMAC-SHA256 signing.
	MethodHS256 = "hs256"
	// MethodEd25519 selects Ed25519 signing.
	MethodEd25519 = "ed25519"

	minHMACKeyBytes = 32
)

// Errors returned by Parse. Callers match with errors.Is.
var (
	ErrExpired      = errors.New("token expired")
	ErrMalformed    = errors.New("token malformed or signature invalid")
	ErrTypeMismatch = errors.New("token type mismatch")
)

// Claims is the claim set carried by every minted token.
type Claims struct {
	SessionID string    `json:"sid"`
	Roles     []string  `json:"roles,omitempty"`
	TokenType TokenType `json:"typ"`
	jwtlib.RegisteredClaims
}

// Config configures a Manager.
type Config struct {
	// SigningMethod is MethodHS256 or MethodEd25519.
	SigningMethod string
	// PrivateKey is the HMAC secret for hs256, or an Ed25519 seed or
	// private key for ed25519.
	PrivateKey []byte
	// PublicKey is required only for ed25519 when PrivateKey is absent,
	// which yields a verify-only Manager.
	PublicKey []byte

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Audience   string
	// Leeway is applied to exp and nbf during verification.
	Leeway time.Duration
}

// Manager mints and verifies tokens. It is safe for concurrent use.
type Manager struct {
	cfg        Config
	method     jwtlib.SigningMethod
	signKey    any
	verifyKey  any
	parser     *jwtlib.Parser
	laxParser  *jwtlib.Parser
	verifyOnly bool
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("jwt: access TTL must be positive")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("jwt: refresh TTL must exceed access TTL")
	}
	if cfg.Leeway < 0 {
		return nil, errors.New("jwt: leeway must not be negative")
	}

	m := &Manager{cfg: cfg}

	switch cfg.SigningMethod {
	case MethodHS256, "":
		if len(cfg.PrivateKey) < minHMACKeyBytes {
			return nil, fmt.Errorf("jwt: hs256 key must be at least %d bytes", minHMACKeyBytes)
		}
		m.method = jwtlib.SigningMethodHS256
		m.signKey = cfg.PrivateKey
		m.verifyKey = cfg.PrivateKey

	case MethodEd25519:
		priv, pub, err := parseEdKeys(cfg.PrivateKey, cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		m.method = jwtlib.SigningMethodEdDSA
		if priv != nil {
			m.signKey = priv
		} else {
			m.verifyOnly = true
		}
		m.verifyKey = pub

	default:
		return nil, fmt.Errorf("jwt: unsupported signing method %q", cfg.SigningMethod)
	}

	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{m.method.Alg()}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(cfg.Audience))
	}
	m.parser = jwtlib.NewParser(opts...)
	m.laxParser = jwtlib.NewParser(
		jwtlib.WithValidMethods([]string{m.method.Alg()}),
		jwtlib.WithoutClaimsValidation(),
	)

	return m, nil
}

// Mint signs a token of the given type. jti must be unique per token; for
// refresh tokens it is the rotation lineage identifier checked by the
// session store.
func (m *Manager) Mint(userID, sessionID string, roles []string, typ TokenType, jti string) (string, error) {
	if m.verifyOnly {
		return "", errors.New("jwt: manager has no signing key")
	}
	if userID == "" || sessionID == "" || jti == "" {
		return "", errors.New("jwt: userID, sessionID and jti are required")
	}

	ttl := m.cfg.AccessTTL
	if typ == TypeRefresh {
		ttl = m.cfg.RefreshTTL
	}

	now := time.Now().UTC()
	claims := Claims{
		SessionID: sessionID,
		TokenType: typ,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwtlib.NewNumericDate(now),
			NotBefore: jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	if typ == TypeAccess {
		claims.Roles = roles
	}
	if m.cfg.Issuer != "" {
		claims.Issuer = m.cfg.Issuer
	}
	if m.cfg.Audience != "" {
		claims.Audience = jwtlib.ClaimStrings{m.cfg.Audience}
	}

	return jwtlib.NewWithClaims(m.method, claims).SignedString(m.signKey)
}

// Parse verifies the signature and standard claims and enforces that the
// token carries the expected type. A signature-valid token of the wrong
// type returns ErrTypeMismatch; any expiry failure returns ErrExpired.
func (m *Manager) Parse(tokenString string, expected TokenType) (*Claims, error) {
	claims := &Claims{}
	_, err := m.parser.ParseWithClaims(tokenString, claims, func(*jwtlib.Token) (any, error) {
		return m.verifyKey, nil
	})
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if claims.TokenType != expected {
		return nil, ErrTypeMismatch
	}
	if claims.Subject == "" || claims.SessionID == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing required claims", ErrMalformed)
	}

	return claims, nil
}

// ParseUnverifiedExpiry verifies the signature and structure but skips
// lifetime claims. Logout uses it so an expired token can still name the
// session it wants revoked. Returns nil when the token fails signature or
// structural checks.
func (m *Manager) ParseUnverifiedExpiry(tokenString string) *Claims {
	claims := &Claims{}
	_, err := m.laxParser.ParseWithClaims(tokenString, claims, func(*jwtlib.Token) (any, error) {
		return m.verifyKey, nil
	})
	if err != nil {
		return nil
	}
	if claims.Subject == "" || claims.SessionID == "" || claims.ID == "" {
		return nil
	}
	return claims
}

// AccessTTL returns the configured access token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.cfg.AccessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.cfg.RefreshTTL }

func parseEdKeys(privRaw, pubRaw []byte) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	var priv ed25519.PrivateKey

	switch len(privRaw) {
	case 0:
		// Verify-only manager.
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(privRaw)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(privRaw)
	default:
		if decoded, err := decodeEdKey(privRaw); err == nil {
			return parseEdKeys(decoded, pubRaw)
		}
		return nil, nil, errors.New("jwt: invalid ed25519 private key length")
	}

	if priv != nil {
		return priv, priv.Public().(ed25519.PublicKey), nil
	}

	switch len(pubRaw) {
	case ed25519.PublicKeySize:
		return nil, ed25519.PublicKey(pubRaw), nil
	case 0:
		return nil, nil, errors.New("jwt: ed25519 requires a private or public key")
	default:
		if decoded, err := decodeEdKey(pubRaw); err == nil && len(decoded) == ed25519.PublicKeySize {
			return nil, ed25519.PublicKey(decoded), nil
		}
		return nil, nil, errors.New("jwt: invalid ed25519 public key length")
	}
}

// decodeEdKey accepts keys supplied as base64 text, a common configuration
// mistake when keys arrive via environment variables.
func decodeEdKey(raw []byte) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		return base64.RawStdEncoding.DecodeString(string(raw))
	}
	return decoded, nil
}
