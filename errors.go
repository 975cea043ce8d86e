package flexiai

import (
	"fmt"
	"strings"
	"time"

	"github.com/flexiai/flexiai/core"
)

// AttemptOutcome classifies one per-provider attempt within a dispatch.
type AttemptOutcome string

const (
	OutcomeSuccess       AttemptOutcome = "success"
	OutcomeRejectedOpen  AttemptOutcome = "rejected_open"
	OutcomeFailTransient AttemptOutcome = "fail_transient"
	OutcomeFailPermanent AttemptOutcome = "fail_permanent"
)

// Attempt records one provider try. Attempts are ephemeral diagnostics:
// they feed the per-process counters and AllProvidersFailed, never
// persistent storage.
type Attempt struct {
	Provider  string
	StartedAt time.Time
	Duration  time.Duration
	Outcome   AttemptOutcome
	ErrorKind core.ErrorKind
	Err       error
}

// ValidationError reports a request that fails the neutral contract. It
// is returned before any provider or breaker is touched.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("request validation failed: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// AllProvidersFailed is returned when the dispatcher exhausts every
// candidate. Attempts carry per-provider kinds and messages so operators
// can tell "all open" apart from "all authenticated but timing out".
type AllProvidersFailed struct {
	Attempts []Attempt
	Reason   string // set for non-attempt exhaustion: no providers, deadline
}

func (e *AllProvidersFailed) Error() string {
	if len(e.Attempts) == 0 {
		if e.Reason != "" {
			return fmt.Sprintf("all providers failed: %s", e.Reason)
		}
		return "all providers failed"
	}

	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		switch a.Outcome {
		case OutcomeRejectedOpen:
			parts = append(parts, fmt.Sprintf("%s: circuit open", a.Provider))
		default:
			parts = append(parts, fmt.Sprintf("%s: %s (%v)", a.Provider, a.ErrorKind, a.Err))
		}
	}
	msg := fmt.Sprintf("all providers failed (%d attempts): %s", len(e.Attempts), strings.Join(parts, "; "))
	if e.Reason != "" {
		msg += "; " + e.Reason
	}
	return msg
}
