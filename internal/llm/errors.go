package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind classifies a provider failure.
type Kind string

const (
	AuthError           Kind = "AuthError"
	ProviderUnavailable Kind = "ProviderUnavailable"
	QuotaExceeded       Kind = "QuotaExceeded"
	// InvalidRequest covers provider-side rejections such as an unknown model id.
	InvalidRequest Kind = "InvalidRequest"
)

// ProviderError is a failed call to a model backend.
type ProviderError struct {
	Provider string
	Kind     Kind
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ProviderError: %s %s", e.Provider, e.Kind)
	if e.Status > 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case AuthError, ProviderUnavailable, QuotaExceeded:
		return true
	}
	return false
}

// Classify maps an HTTP status and transport error onto a Kind.
func Classify(status int, err error) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return AuthError
	case status == http.StatusTooManyRequests:
		return QuotaExceeded
	case status == http.StatusRequestTimeout || status >= 500:
		return ProviderUnavailable
	case status >= 400:
		return InvalidRequest
	}
	if err == nil {
		return ProviderUnavailable
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return ProviderUnavailable
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key"), strings.Contains(msg, "api_key"),
		strings.Contains(msg, "unauthorized"), strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "authentication"):
		return AuthError
	case strings.Contains(msg, "quota"), strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "resource_exhausted"), strings.Contains(msg, "resource exhausted"):
		return QuotaExceeded
	}
	return ProviderUnavailable
}

func newProviderError(provider string, status int, err error, key string) *ProviderError {
	kind := Classify(status, err)
	if err != nil {
		err = errors.New(redact(err.Error(), key))
	}
	return &ProviderError{Provider: provider, Kind: kind, Status: status, Err: err}
}
