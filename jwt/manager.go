// Package jwt issues and parses the session tokens handed out after a fully
// verified login. HMAC-SHA256 is the default; Ed25519 is available for
// deployments that verify tokens in other services without sharing a secret.
package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken covers malformed, mis-signed, and wrongly typed tokens.
	ErrInvalidToken = errors.New("jwt: invalid token")
	// ErrExpiredToken means the token parsed fine but its lifetime is over.
	ErrExpiredToken = errors.New("jwt: token expired")
)

// Config selects the signing method and lifetime for session tokens.
type Config struct {
	// SigningMethod is "hs256" or "ed25519".
	SigningMethod string
	// PrivateKey is the HMAC secret for hs256 or the ed25519 private key.
	PrivateKey []byte
	// PublicKey is required for ed25519 verification, ignored for hs256.
	PublicKey []byte
	TokenTTL  time.Duration
	Issuer    string
}

// SessionClaims are the claims embedded in every session token.
type SessionClaims struct {
	Channels []string `json:"amr,omitempty"`
	jwt.RegisteredClaims
}

type Manager struct {
	cfg       Config
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.TokenTTL <= 0 {
		return nil, errors.New("jwt: token ttl must be positive")
	}
	m := &Manager{cfg: cfg}
	switch cfg.SigningMethod {
	case "hs256", "":
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("jwt: hs256 requires a signing secret")
		}
		m.method = jwt.SigningMethodHS256
		m.signKey = cfg.PrivateKey
		m.verifyKey = cfg.PrivateKey
	case "ed25519":
		if len(cfg.PrivateKey) != ed25519.PrivateKeySize {
			return nil, errors.New("jwt: ed25519 requires a 64-byte private key")
		}
		if len(cfg.PublicKey) != ed25519.PublicKeySize {
			return nil, errors.New("jwt: ed25519 requires a 32-byte public key")
		}
		m.method = jwt.SigningMethodEdDSA
		m.signKey = ed25519.PrivateKey(cfg.PrivateKey)
		m.verifyKey = ed25519.PublicKey(cfg.PublicKey)
	default:
		return nil, fmt.Errorf("jwt: unsupported signing method %q", cfg.SigningMethod)
	}
	return m, nil
}

// CreateSessionToken signs a token for the given user. channels records which
// verification factors were completed, in the amr claim.
func (m *Manager) CreateSessionToken(userID string, channels []string) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Channels: channels,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    m.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.TokenTTL)),
		},
	}
	token := jwt.NewWithClaims(m.method, claims)
	signed, err := token.SignedString(m.signKey)
	if err != nil {
		return "", fmt.Errorf("jwt: sign: %w", err)
	}
	return signed, nil
}

// Parse validates a session token and returns its claims.
func (m *Manager) Parse(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != m.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return m.verifyKey, nil
	}, jwt.WithIssuer(m.cfg.Issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
