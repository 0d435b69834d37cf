package auth

import "time"

// UserClaims represents the JWT claims for a user
type UserClaims struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email,omitempty"`
	IsAdmin bool   `json:"is_admin,omitempty"`
}

// Config holds bearer token settings. When Enabled is false every request
// runs as AnonymousUserID.
type Config struct {
	Enabled             bool          `json:"enabled" yaml:"enabled"`
	JWTSecret           string        `json:"jwt_secret" yaml:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration" yaml:"access_token_duration" default:"15m"`
	Issuer              string        `json:"issuer" yaml:"issuer" default:"chart-trade-analyzer"`
	Audience            string        `json:"audience" yaml:"audience" default:"chart-trade-analyzer-api"`
}

// DefaultConfig returns auth disabled with 15 minute tokens
func DefaultConfig() Config {
	return Config{
		AccessTokenDuration: 15 * time.Minute,
		Issuer:              "chart-trade-analyzer",
		Audience:            "chart-trade-analyzer-api",
	}
}

// AnonymousUserID owns every record when auth is disabled
const AnonymousUserID = "local"

// Error types for authentication
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

// Common authentication errors
var (
	ErrInvalidToken = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrUnauthorized = AuthError{Code: "UNAUTHORIZED", Message: "unauthorized access"}
	ErrForbidden    = AuthError{Code: "FORBIDDEN", Message: "access forbidden"}
)
