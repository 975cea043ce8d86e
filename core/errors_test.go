package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKindRetryable(t *testing.T) {
	retryable := []ErrorKind{KindRateLimit, KindTimeout, KindNetwork, KindUpstream5xx, KindUnknown}
	for _, k := range retryable {
		if !k.Retryable() {
			t.Errorf("expected %s to be retryable", k)
		}
	}

	permanent := []ErrorKind{KindAuth, KindBadRequest, KindMalformed, KindSafetyBlock}
	for _, k := range permanent {
		if k.Retryable() {
			t.Errorf("expected %s to be non-retryable", k)
		}
	}
}

func TestProviderErrorWrapping(t *testing.T) {
	underlying := errors.New("connection reset")
	err := NewProviderError(KindNetwork, "upstream unreachable", "ECONNRESET", underlying)

	if !errors.Is(err, underlying) {
		t.Error("expected ProviderError to unwrap to the underlying error")
	}
	if got := KindOf(err); got != KindNetwork {
		t.Errorf("KindOf = %s, want %s", got, KindNetwork)
	}

	wrapped := fmt.Errorf("dispatch: %w", err)
	if got := KindOf(wrapped); got != KindNetwork {
		t.Errorf("KindOf through wrap = %s, want %s", got, KindNetwork)
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if got := KindOf(errors.New("mystery")); got != KindUnknown {
		t.Errorf("KindOf = %s, want %s", got, KindUnknown)
	}
}

func TestProviderErrorMessage(t *testing.T) {
	err := NewProviderError(KindRateLimit, "slow down", "429", nil)
	want := "rate_limit (429): slow down"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	bare := NewProviderError(KindAuth, "bad key", "", nil)
	if bare.Error() != "auth: bad key" {
		t.Errorf("Error() = %q", bare.Error())
	}
}
