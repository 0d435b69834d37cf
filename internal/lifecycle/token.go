package lifecycle

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// tokenBytes is the entropy of an execution token
const tokenBytes = 32

// NewExecutionToken returns a random URL-safe token and its bcrypt hash.
// Only the hash is stored.
func NewExecutionToken(cost int) (token, hash string, err error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate execution token: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(buf)

	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", "", fmt.Errorf("hash execution token: %w", err)
	}
	return token, string(h), nil
}

// VerifyExecutionToken compares a presented token with the stored hash
func VerifyExecutionToken(hash, token string) error {
	if hash == "" || token == "" {
		return ErrTokenMismatch
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrTokenMismatch
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenMismatch, err)
	}
	return nil
}
