// Package auth issues and checks producer tokens for the append endpoint.
//
// Producers are the services allowed to write into the log. Each holds an
// HS256 token minted by the operator with the shared producer secret:
//
//   - TokenIssuer mints and verifies producer tokens
//   - RequireProducer is the Gin middleware guarding POST /append
package auth

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrNoSecret is returned when an issuer is built without a secret.
var ErrNoSecret = errors.New("auth: empty producer secret")

// ProducerClaims are the JWT claims for a producer token.
type ProducerClaims struct {
	jwt.RegisteredClaims
	Producer string `json:"producer"`
}

// TokenIssuer issues and verifies producer tokens signed with HS256.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates a TokenIssuer.
//
//	issuer: the "iss" claim value, typically the log's base URL.
//	ttl:    token lifetime (default 30 days).
//
// Surrounding whitespace in secret is ignored.
func NewTokenIssuer(secret []byte, issuer string, ttl time.Duration) (*TokenIssuer, error) {
	secret = bytes.TrimSpace(secret)
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}
	if ttl == 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &TokenIssuer{secret: secret, issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// Issue creates a signed token for producer.
func (t *TokenIssuer) Issue(producer string) (string, error) {
	if producer == "" {
		return "", errors.New("auth: producer name required")
	}
	now := t.now().UTC()
	claims := ProducerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   producer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		Producer: producer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a producer token, returning its claims.
func (t *TokenIssuer) Verify(tokenStr string) (*ProducerClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&ProducerClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.secret, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(*ProducerClaims)
	if !ok || !token.Valid || claims.Producer == "" {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// TTL returns the configured token lifetime.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }
