// Package resilience implements the per-provider circuit breaker used by
// the dispatcher. Each breaker is a three-state machine (closed, open,
// half-open) with automatic recovery testing after a configurable timeout.
package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flexiai/flexiai/core"
)

// State represents the state of the circuit breaker
type State int

const (
	// StateClosed allows all requests through
	StateClosed State = iota
	// StateOpen rejects all requests without invoking the operation
	StateOpen
	// StateHalfOpen admits a bounded number of recovery probes
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// EventType enumerates breaker events observers receive.
type EventType string

const (
	EventOpened   EventType = "opened"
	EventClosed   EventType = "closed"
	EventHalfOpen EventType = "half_open"
	EventFailure  EventType = "failure"
	EventSuccess  EventType = "success"
)

// Event is a breaker state notification. State-change events (opened,
// closed, half_open) fire on transitions; failure and success fire on
// counted results that do not transition.
type Event struct {
	Type     EventType
	Breaker  string
	At       time.Time
	Snapshot Snapshot
}

// Observer receives breaker events. Observers are invoked while the
// breaker mutex is held, so implementations must only enqueue; anything
// slow (network publishes) belongs on the observer's own goroutine.
type Observer interface {
	OnBreakerEvent(evt Event)
}

// MetricsCollector interface for circuit breaker metrics
type MetricsCollector interface {
	RecordSuccess(name string)
	RecordFailure(name string, errorKind string)
	RecordStateChange(name string, from, to string)
	RecordRejection(name string)
}

// noopMetrics is a no-op metrics implementation
type noopMetrics struct{}

func (n *noopMetrics) RecordSuccess(name string)                      {}
func (n *noopMetrics) RecordFailure(name string, errorKind string)    {}
func (n *noopMetrics) RecordStateChange(name string, from, to string) {}
func (n *noopMetrics) RecordRejection(name string)                    {}

// Snapshot is a point-in-time copy of breaker state. It is the unit
// exchanged with the sync layer; applying the same snapshot twice yields
// the same state as applying it once.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	SuccessesSinceClose int
	OpenedAt            *time.Time
	LastFailureAt       *time.Time
	HalfOpenInFlight    int
}

// Config holds configuration for one circuit breaker.
type Config struct {
	// Name identifies the breaker; it equals the provider name.
	Name string

	// FailureThreshold is the number of consecutive counted failures that
	// opens the breaker. Must be at least 1.
	FailureThreshold int

	// RecoveryTimeout is how long an open breaker waits before admitting
	// recovery probes.
	RecoveryTimeout time.Duration

	// HalfOpenMaxCalls bounds concurrent probes in half-open state.
	HalfOpenMaxCalls int

	// ExpectedErrorKinds enumerates the kinds that count toward the
	// threshold. An empty set counts every failure, so novel error kinds
	// are never silently swallowed.
	ExpectedErrorKinds []core.ErrorKind

	// Logger for breaker events
	Logger core.Logger

	// Metrics collector for monitoring
	Metrics MetricsCollector
}

// Defaults applied by DefaultConfig and the dispatcher's registry.
const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second
	DefaultHalfOpenMaxCalls = 1
)

// DefaultExpectedErrorKinds counts provider-health failures. Safety blocks
// and malformed payloads are content problems, not provider health, and
// are excluded.
func DefaultExpectedErrorKinds() []core.ErrorKind {
	return []core.ErrorKind{
		core.KindAuth,
		core.KindRateLimit,
		core.KindTimeout,
		core.KindNetwork,
		core.KindBadRequest,
		core.KindUpstream5xx,
		core.KindUnknown,
	}
}

// DefaultConfig returns a production-ready default configuration.
func DefaultConfig(name string) Config {
	return Config{
		Name:               name,
		FailureThreshold:   DefaultFailureThreshold,
		RecoveryTimeout:    DefaultRecoveryTimeout,
		HalfOpenMaxCalls:   DefaultHalfOpenMaxCalls,
		ExpectedErrorKinds: DefaultExpectedErrorKinds(),
		Logger:             &core.NoOpLogger{},
		Metrics:            &noopMetrics{},
	}
}

// Validate validates the circuit breaker configuration.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("circuit breaker name is required: %w", core.ErrInvalidConfiguration)
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1, got %d: %w",
			c.FailureThreshold, core.ErrInvalidConfiguration)
	}
	if c.RecoveryTimeout < 0 {
		return fmt.Errorf("recovery timeout must be non-negative, got %v: %w",
			c.RecoveryTimeout, core.ErrInvalidConfiguration)
	}
	if c.HalfOpenMaxCalls < 1 {
		return fmt.Errorf("half-open max calls must be at least 1, got %d: %w",
			c.HalfOpenMaxCalls, core.ErrInvalidConfiguration)
	}
	return nil
}

// executionToken tracks whether an admitted call consumed a half-open slot.
type executionToken struct {
	halfOpen bool
}

// CircuitBreaker tracks the health of one provider and gates calls to it.
// All state transitions are serialized by a per-breaker mutex; the hold
// time covers only counter updates and observer enqueues.
type CircuitBreaker struct {
	config   Config
	expected map[core.ErrorKind]bool

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	successesSinceClose int
	openedAt            *time.Time
	lastFailureAt       *time.Time
	halfOpenInFlight    int
	observers           []Observer

	now func() time.Time
}

// NewCircuitBreaker creates a circuit breaker for one provider.
func NewCircuitBreaker(config Config) (*CircuitBreaker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &noopMetrics{}
	}

	expected := make(map[core.ErrorKind]bool, len(config.ExpectedErrorKinds))
	for _, k := range config.ExpectedErrorKinds {
		expected[k] = true
	}

	cb := &CircuitBreaker{
		config:   config,
		expected: expected,
		state:    StateClosed,
		now:      time.Now,
	}

	config.Logger.Info("Circuit breaker created", map[string]interface{}{
		"operation":           "circuit_breaker_created",
		"name":                config.Name,
		"failure_threshold":   config.FailureThreshold,
		"recovery_timeout_ms": config.RecoveryTimeout.Milliseconds(),
		"half_open_max_calls": config.HalfOpenMaxCalls,
	})

	return cb, nil
}

// Name returns the breaker's (provider) name.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// AddObserver registers an observer for breaker events.
func (cb *CircuitBreaker) AddObserver(obs Observer) {
	cb.mu.Lock()
	cb.observers = append(cb.observers, obs)
	cb.mu.Unlock()
}

// Execute gates fn by the current state. When the breaker is open and the
// recovery timeout has not elapsed, fn is not invoked and the returned
// error wraps core.ErrCircuitBreakerOpen.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	token, allowed := cb.admit()
	if !allowed {
		cb.config.Metrics.RecordRejection(cb.config.Name)
		cb.config.Logger.DebugWithContext(ctx, "Circuit breaker rejected call", map[string]interface{}{
			"operation": "circuit_breaker_reject",
			"name":      cb.config.Name,
			"state":     cb.State().String(),
		})
		return fmt.Errorf("circuit breaker %q is open: %w", cb.config.Name, core.ErrCircuitBreakerOpen)
	}

	err := fn()
	cb.complete(token, err)
	return err
}

// RecordSuccess records a success for adapters that run the operation
// outside the gate.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.complete(executionToken{}, nil)
}

// RecordFailure records a classified failure for adapters that run the
// operation outside the gate.
func (cb *CircuitBreaker) RecordFailure(kind core.ErrorKind) {
	cb.complete(executionToken{}, core.NewProviderError(kind, "recorded failure", "", nil))
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot returns a copy of the current state.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.snapshotLocked()
}

func (cb *CircuitBreaker) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:               cb.state,
		ConsecutiveFailures: cb.consecutiveFailures,
		SuccessesSinceClose: cb.successesSinceClose,
		HalfOpenInFlight:    cb.halfOpenInFlight,
	}
	if cb.openedAt != nil {
		t := *cb.openedAt
		snap.OpenedAt = &t
	}
	if cb.lastFailureAt != nil {
		t := *cb.lastFailureAt
		snap.LastFailureAt = &t
	}
	return snap
}

// ApplyRemote overwrites local state from a snapshot received through the
// sync layer. It acquires the same mutex as local transitions and emits no
// events, so remote applies cannot feed back into the sync channel.
func (cb *CircuitBreaker) ApplyRemote(snap Snapshot) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	from := cb.state
	cb.state = snap.State
	cb.consecutiveFailures = snap.ConsecutiveFailures
	cb.successesSinceClose = snap.SuccessesSinceClose
	cb.halfOpenInFlight = snap.HalfOpenInFlight
	cb.openedAt = nil
	if snap.OpenedAt != nil {
		t := *snap.OpenedAt
		cb.openedAt = &t
	}
	cb.lastFailureAt = nil
	if snap.LastFailureAt != nil {
		t := *snap.LastFailureAt
		cb.lastFailureAt = &t
	}

	if from != snap.State {
		cb.config.Metrics.RecordStateChange(cb.config.Name, from.String(), snap.State.String())
		cb.config.Logger.Info("Circuit breaker state applied from remote", map[string]interface{}{
			"operation": "circuit_breaker_apply_remote",
			"name":      cb.config.Name,
			"from":      from.String(),
			"to":        snap.State.String(),
		})
	}
}

// Reset forces the breaker closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	from := cb.state
	cb.state = StateClosed
	cb.consecutiveFailures = 0
	cb.successesSinceClose = 0
	cb.openedAt = nil
	cb.lastFailureAt = nil
	cb.halfOpenInFlight = 0

	cb.config.Logger.Info("Circuit breaker reset", map[string]interface{}{
		"operation":      "circuit_breaker_reset",
		"name":           cb.config.Name,
		"previous_state": from.String(),
	})

	if from != StateClosed {
		cb.config.Metrics.RecordStateChange(cb.config.Name, from.String(), StateClosed.String())
		cb.notifyLocked(EventClosed)
	}
}

// admit decides whether a call may proceed, performing the open→half-open
// transition when the recovery timeout has elapsed.
func (cb *CircuitBreaker) admit() (executionToken, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return executionToken{}, true

	case StateOpen:
		if cb.openedAt == nil || cb.now().Sub(*cb.openedAt) < cb.config.RecoveryTimeout {
			return executionToken{}, false
		}
		cb.transitionLocked(StateHalfOpen)
		cb.halfOpenInFlight = 1
		cb.notifyLocked(EventHalfOpen)
		return executionToken{halfOpen: true}, true

	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.config.HalfOpenMaxCalls {
			return executionToken{}, false
		}
		cb.halfOpenInFlight++
		return executionToken{halfOpen: true}, true

	default:
		return executionToken{}, false
	}
}

// complete records the outcome of an admitted (or externally run) call.
func (cb *CircuitBreaker) complete(token executionToken, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.completeSuccessLocked(token)
		return
	}
	cb.completeFailureLocked(token, core.KindOf(err))
}

func (cb *CircuitBreaker) completeSuccessLocked(token executionToken) {
	cb.config.Metrics.RecordSuccess(cb.config.Name)

	switch cb.state {
	case StateHalfOpen:
		// First probe success closes the breaker fully; concurrent probes
		// still in flight record against the closed breaker when they land.
		cb.transitionLocked(StateClosed)
		cb.successesSinceClose = 1
		cb.notifyLocked(EventClosed)
	case StateClosed:
		cb.consecutiveFailures = 0
		cb.successesSinceClose++
		cb.notifyLocked(EventSuccess)
	case StateOpen:
		// Stale completion from before the breaker reopened; ignore.
	}
}

func (cb *CircuitBreaker) completeFailureLocked(token executionToken, kind core.ErrorKind) {
	counted := len(cb.expected) == 0 || cb.expected[kind]

	cb.config.Logger.Debug("Circuit breaker recorded failure", map[string]interface{}{
		"operation": "circuit_breaker_failure",
		"name":      cb.config.Name,
		"kind":      string(kind),
		"counted":   counted,
		"state":     cb.state.String(),
	})

	if !counted {
		// Content problem, not provider health. Free the probe slot so the
		// half-open window is not consumed by it.
		if token.halfOpen && cb.state == StateHalfOpen && cb.halfOpenInFlight > 0 {
			cb.halfOpenInFlight--
		}
		return
	}

	cb.config.Metrics.RecordFailure(cb.config.Name, string(kind))
	now := cb.now()
	cb.lastFailureAt = &now

	switch cb.state {
	case StateHalfOpen:
		cb.transitionLocked(StateOpen)
		cb.notifyLocked(EventOpened)
	case StateClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.transitionLocked(StateOpen)
			cb.notifyLocked(EventOpened)
		} else {
			cb.notifyLocked(EventFailure)
		}
	case StateOpen:
		// Stale completion while already open; counters unchanged.
	}
}

// transitionLocked changes state (must be called with lock held). Event
// notification is the caller's responsibility so snapshots reflect any
// post-transition adjustments.
func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to

	switch to {
	case StateOpen:
		now := cb.now()
		cb.openedAt = &now
		cb.halfOpenInFlight = 0
		cb.successesSinceClose = 0
	case StateHalfOpen:
		cb.halfOpenInFlight = 0
		cb.successesSinceClose = 0
	case StateClosed:
		cb.consecutiveFailures = 0
		cb.halfOpenInFlight = 0
		cb.openedAt = nil
		cb.successesSinceClose = 0
	}

	cb.config.Metrics.RecordStateChange(cb.config.Name, from.String(), to.String())
	cb.config.Logger.Info("Circuit breaker state changed", map[string]interface{}{
		"operation": "circuit_breaker_transition",
		"name":      cb.config.Name,
		"from":      from.String(),
		"to":        to.String(),
		"failures":  cb.consecutiveFailures,
	})
}

// notifyLocked delivers an event to every observer. Held-lock delivery
// keeps per-breaker event order total; observers must only enqueue.
func (cb *CircuitBreaker) notifyLocked(t EventType) {
	if len(cb.observers) == 0 {
		return
	}
	evt := Event{
		Type:     t,
		Breaker:  cb.config.Name,
		At:       cb.now(),
		Snapshot: cb.snapshotLocked(),
	}
	for _, obs := range cb.observers {
		obs.OnBreakerEvent(evt)
	}
}
