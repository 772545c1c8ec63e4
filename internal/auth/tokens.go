package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken covers every token that fails signature, expiry or claim
// checks.
var ErrInvalidToken = errors.New("invalid token")

const (
	issuer          = "escrowpay"
	tokenUseAccess  = "access"
	tokenUseRefresh = "refresh"
)

// Claims are carried by both access and refresh tokens. Version must match
// the user's current token version or the token has been revoked.
type Claims struct {
	Version int    `json:"ver"`
	Tier    string `json:"tier,omitempty"`
	Use     string `json:"use"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 tokens with one secret.
type Signer struct {
	secret []byte
	ttl    time.Duration
	use    string
	now    func() time.Time
}

func newSigner(secret string, ttl time.Duration, use string) *Signer {
	return &Signer{secret: []byte(secret), ttl: ttl, use: use, now: time.Now}
}

// NewAccessSigner builds the signer used for bearer tokens.
func NewAccessSigner(secret string, ttl time.Duration) *Signer {
	return newSigner(secret, ttl, tokenUseAccess)
}

// NewRefreshSigner builds the signer used for refresh tokens.
func NewRefreshSigner(secret string, ttl time.Duration) *Signer {
	return newSigner(secret, ttl, tokenUseRefresh)
}

// Sign returns a token for subject and its expiry.
func (s *Signer) Sign(subject, tier string, version int) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{
		Version: version,
		Tier:    tier,
		Use:     s.use,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies token and returns its claims.
func (s *Signer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Use != s.use || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
