package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind separates provider failures the caller may want to treat
// differently
type ErrorKind string

const (
	// KindAuth covers missing or rejected credentials and configuration
	KindAuth ErrorKind = "auth"
	// KindTransient covers timeouts, rate limits, outages and bad payloads
	KindTransient ErrorKind = "transient"
)

var (
	ErrAuth      = errors.New("provider authentication failed")
	ErrTransient = errors.New("provider temporarily unavailable")
	ErrNoAPIKey  = errors.New("provider API key not configured")
)

// ProviderError is returned for every failed provider call
type ProviderError struct {
	Kind       ErrorKind
	Provider   Provider
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s provider error (%s, status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s provider error (%s): %s", e.Provider, e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is lets callers test with errors.Is(err, ErrAuth) / ErrTransient
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrAuth:
		return e.Kind == KindAuth
	case ErrTransient:
		return e.Kind == KindTransient
	}
	return false
}

// KindOf returns the kind of a provider error, or transient for anything
// that is not a ProviderError
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

func authError(p Provider, status int, msg string, err error) *ProviderError {
	return &ProviderError{Kind: KindAuth, Provider: p, StatusCode: status, Message: msg, Err: err}
}

func transientError(p Provider, status int, msg string, err error) *ProviderError {
	return &ProviderError{Kind: KindTransient, Provider: p, StatusCode: status, Message: msg, Err: err}
}

// classifyStatus maps an HTTP status to an error kind
func classifyStatus(status int) ErrorKind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	}
	return KindTransient
}

// classifyTransport wraps an error from the HTTP round trip
func classifyTransport(p Provider, err error) *ProviderError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return transientError(p, 0, "request timed out", err)
	case errors.Is(err, context.Canceled):
		return transientError(p, 0, "request canceled", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transientError(p, 0, "request timed out", err)
	}
	return transientError(p, 0, "failed to send request", err)
}
