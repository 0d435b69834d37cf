package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const minSecretLen = 32

// tokenClaims is the signed payload: our user fields next to the standard ones
type tokenClaims struct {
	UserClaims
	jwt.RegisteredClaims
}

// JWTManager signs and verifies HS256 access tokens
type JWTManager struct {
	secret   []byte
	ttl      time.Duration
	issuer   string
	audience string
	parser   *jwt.Parser
}

// NewJWTManager fills unset fields from DefaultConfig
func NewJWTManager(cfg Config) (*JWTManager, error) {
	if len(cfg.JWTSecret) < minSecretLen {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes, got %d", minSecretLen, len(cfg.JWTSecret))
	}
	def := DefaultConfig()
	if cfg.AccessTokenDuration <= 0 {
		cfg.AccessTokenDuration = def.AccessTokenDuration
	}
	if cfg.Issuer == "" {
		cfg.Issuer = def.Issuer
	}
	if cfg.Audience == "" {
		cfg.Audience = def.Audience
	}

	return &JWTManager{
		secret:   []byte(cfg.JWTSecret),
		ttl:      cfg.AccessTokenDuration,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// GenerateAccessToken signs claims for the configured lifetime
func (m *JWTManager) GenerateAccessToken(claims UserClaims) (string, error) {
	if claims.UserID == "" {
		return "", fmt.Errorf("user id is required")
	}
	now := time.Now()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		UserClaims: claims,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.UserID,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateAccessToken returns ErrTokenExpired for expired tokens and
// ErrInvalidToken for anything else that fails verification
func (m *JWTManager) ValidateAccessToken(raw string) (*UserClaims, error) {
	var claims tokenClaims
	token, err := m.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil, !token.Valid, claims.UserID == "":
		return nil, ErrInvalidToken
	}
	return &claims.UserClaims, nil
}

// GetAccessTokenDuration returns the token lifetime in seconds
func (m *JWTManager) GetAccessTokenDuration() int64 {
	return int64(m.ttl / time.Second)
}
