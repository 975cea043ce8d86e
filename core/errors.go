package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is().
// These are generic errors that can be wrapped with additional context.
var (
	// Request/configuration errors
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	// Dispatch errors
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrNoProviders        = errors.New("no providers registered")
	ErrDuplicateProvider  = errors.New("provider already registered")
	ErrUnsupportedKind    = errors.New("unsupported provider kind")
	ErrProviderNotFound   = errors.New("provider not found")

	// Sync/network errors
	ErrConnectionFailed = errors.New("connection failed")
	ErrSyncUnavailable  = errors.New("sync backend unavailable")
	ErrClientClosed     = errors.New("client is closed")
)

// ErrorKind is the closed failure taxonomy every adapter error must be
// classified into. Classification drives both breaker accounting and the
// dispatcher's skip/failover decision.
type ErrorKind string

const (
	KindAuth        ErrorKind = "auth"
	KindRateLimit   ErrorKind = "rate_limit"
	KindTimeout     ErrorKind = "timeout"
	KindNetwork     ErrorKind = "network"
	KindSafetyBlock ErrorKind = "safety_block"
	KindBadRequest  ErrorKind = "bad_request"
	KindUpstream5xx ErrorKind = "upstream_5xx"
	KindMalformed   ErrorKind = "malformed"
	KindUnknown     ErrorKind = "unknown"
)

// Retryable reports whether this kind is a transient failure. The
// dispatcher fails over to the next provider after any kind; retryable
// kinds are recorded as transient failures, non-retryable kinds as
// permanent ones.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimit, KindTimeout, KindNetwork, KindUpstream5xx, KindUnknown:
		return true
	default:
		return false
	}
}

// ProviderError is the structured error adapters surface. It is consumed
// by the dispatcher and never returned to callers directly; callers see it
// inside AllProvidersFailed attempt diagnostics.
type ProviderError struct {
	Kind         ErrorKind
	Message      string
	ProviderCode string // native error code, if the provider supplied one
	Err          error  // underlying error for wrapping
}

func (e *ProviderError) Error() string {
	if e.ProviderCode != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.ProviderCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a classified provider error.
func NewProviderError(kind ErrorKind, message, providerCode string, err error) *ProviderError {
	return &ProviderError{Kind: kind, Message: message, ProviderCode: providerCode, Err: err}
}

// KindOf extracts the ErrorKind from an error chain, defaulting to
// KindUnknown for errors no adapter classified.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}
