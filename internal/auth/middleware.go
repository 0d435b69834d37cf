package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// claimsKey is where the middlewares leave the caller's claims
const claimsKey = "auth_claims"

// Middleware rejects requests without a valid bearer token
func Middleware(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			deny(c, http.StatusUnauthorized, ErrUnauthorized, "missing or malformed authorization header")
			return
		}
		if !authenticate(c, jwtManager, raw) {
			return
		}
		c.Next()
	}
}

// Anonymous runs every request as AnonymousUserID. Used when auth is
// disabled.
func Anonymous() gin.HandlerFunc {
	anon := &UserClaims{UserID: AnonymousUserID}
	return func(c *gin.Context) {
		c.Set(claimsKey, anon)
		c.Next()
	}
}

// WebSocketMiddleware also accepts ?token= since browsers cannot set
// headers on the upgrade request
func WebSocketMiddleware(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			raw = c.Query("token")
		}
		if raw == "" {
			deny(c, http.StatusUnauthorized, ErrUnauthorized, "missing token")
			return
		}
		if !authenticate(c, jwtManager, raw) {
			return
		}
		c.Next()
	}
}

// RequireAdmin must run after Middleware
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			deny(c, http.StatusForbidden, ErrForbidden, "admin access required")
			return
		}
		c.Next()
	}
}

func authenticate(c *gin.Context, jwtManager *JWTManager, raw string) bool {
	claims, err := jwtManager.ValidateAccessToken(raw)
	if err != nil {
		var authErr AuthError
		if !errors.As(err, &authErr) {
			authErr = ErrInvalidToken
		}
		deny(c, http.StatusUnauthorized, authErr, authErr.Message)
		return false
	}
	c.Set(claimsKey, claims)
	return true
}

func deny(c *gin.Context, status int, kind AuthError, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":   true,
		"code":    kind.Code,
		"message": message,
	})
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// GetUserClaims returns nil outside the auth middlewares
func GetUserClaims(c *gin.Context) *UserClaims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*UserClaims)
	return claims
}

// GetUserID returns "" when no claims are set
func GetUserID(c *gin.Context) string {
	if claims := GetUserClaims(c); claims != nil {
		return claims.UserID
	}
	return ""
}

func IsAdmin(c *gin.Context) bool {
	claims := GetUserClaims(c)
	return claims != nil && claims.IsAdmin
}
