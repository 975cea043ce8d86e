package statesync

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flexiai/flexiai/core"
	"github.com/flexiai/flexiai/resilience"
)

// publishQueueSize bounds the observer-to-publisher handoff. The breaker
// holds its mutex while enqueueing, so the enqueue must never block.
const publishQueueSize = 256

// ManagerOptions configures a sync manager.
type ManagerOptions struct {
	// WorkerID overrides the generated worker identity.
	WorkerID string

	// StateTTL overrides DefaultStateTTL for state records.
	StateTTL time.Duration

	Logger core.Logger
}

// Manager wires local circuit breakers to a sync backend: every local
// transition is published and persisted, and remote events are applied to
// the matching breaker. One Manager serves one worker process.
type Manager struct {
	backend  Backend
	workerID string
	ttl      time.Duration
	logger   core.Logger

	mu       sync.RWMutex
	breakers map[string]*resilience.CircuitBreaker

	events chan resilience.Event
	sub    Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started bool
	now     func() time.Time
}

// NewManager creates a manager over the given backend.
func NewManager(backend Backend, opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = &core.NoOpLogger{}
	}
	if opts.WorkerID == "" {
		opts.WorkerID = generateWorkerID()
	}
	if opts.StateTTL <= 0 {
		opts.StateTTL = DefaultStateTTL
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		backend:  backend,
		workerID: opts.WorkerID,
		ttl:      opts.StateTTL,
		logger:   opts.Logger,
		breakers: make(map[string]*resilience.CircuitBreaker),
		events:   make(chan resilience.Event, publishQueueSize),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
}

// generateWorkerID builds a process-unique identity.
func generateWorkerID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return uuid.NewString()
	}
	return fmt.Sprintf("%s-%d-%d", hostname, os.Getpid(), time.Now().UnixNano())
}

// WorkerID returns this manager's worker identity.
func (m *Manager) WorkerID() string {
	return m.workerID
}

// Register wires a breaker to the sync layer. Call before Start; the
// breaker's lifecycle spans the process.
func (m *Manager) Register(cb *resilience.CircuitBreaker) {
	m.mu.Lock()
	m.breakers[cb.Name()] = cb
	m.mu.Unlock()

	cb.AddObserver(m)
}

// OnBreakerEvent implements resilience.Observer. It runs under the
// breaker mutex, so it only enqueues; the publisher goroutine does the
// network work.
func (m *Manager) OnBreakerEvent(evt resilience.Event) {
	select {
	case m.events <- evt:
	default:
		m.logger.Warn("Sync publish queue full, dropping event", map[string]interface{}{
			"operation": "sync_event_dropped",
			"breaker":   evt.Breaker,
			"kind":      string(evt.Type),
		})
	}
}

// Start hydrates registered breakers from stored state and begins event
// publication and subscription.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	m.hydrate(ctx)

	sub, err := m.backend.Subscribe(m.handleRemote)
	if err != nil {
		return fmt.Errorf("start sync subscription: %w", err)
	}
	m.sub = sub

	m.wg.Add(1)
	go m.publishLoop()

	m.logger.Info("Sync manager started", map[string]interface{}{
		"operation": "sync_manager_started",
		"worker_id": m.workerID,
		"breakers":  m.breakerCount(),
	})
	return nil
}

func (m *Manager) breakerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.breakers)
}

// hydrate applies stored records to registered breakers. A record wins
// when the local breaker is pristine or the record opened later than the
// local state.
func (m *Manager) hydrate(ctx context.Context) {
	m.mu.RLock()
	breakers := make([]*resilience.CircuitBreaker, 0, len(m.breakers))
	for _, cb := range m.breakers {
		breakers = append(breakers, cb)
	}
	m.mu.RUnlock()

	for _, cb := range breakers {
		record, err := m.backend.GetState(ctx, cb.Name())
		if err != nil {
			m.logger.Warn("Failed to read stored breaker state", map[string]interface{}{
				"operation": "sync_hydrate_failed",
				"breaker":   cb.Name(),
				"error":     err.Error(),
			})
			continue
		}
		if record == nil {
			continue
		}

		snap, err := record.Snapshot()
		if err != nil {
			m.logger.Warn("Discarding unreadable breaker record", map[string]interface{}{
				"operation": "sync_hydrate_malformed",
				"breaker":   cb.Name(),
				"error":     err.Error(),
			})
			continue
		}

		if !recordNewer(cb.Snapshot(), snap) {
			continue
		}

		cb.ApplyRemote(snap)
		m.logger.Info("Breaker state hydrated from sync backend", map[string]interface{}{
			"operation": "sync_hydrate_applied",
			"breaker":   cb.Name(),
			"state":     snap.State.String(),
		})
	}
}

// recordNewer reports whether a stored record should overwrite local state.
func recordNewer(local, record resilience.Snapshot) bool {
	pristine := local.State == resilience.StateClosed &&
		local.ConsecutiveFailures == 0 && local.OpenedAt == nil
	if pristine {
		return true
	}
	if record.OpenedAt == nil {
		return false
	}
	return local.OpenedAt == nil || record.OpenedAt.After(*local.OpenedAt)
}

// publishLoop drains breaker events into the backend.
func (m *Manager) publishLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case evt := <-m.events:
			m.publish(evt)
		}
	}
}

func (m *Manager) publish(evt resilience.Event) {
	wire := Event{
		Version:  SchemaVersion,
		Kind:     string(evt.Type),
		Provider: evt.Breaker,
		WorkerID: m.workerID,
		TS:       evt.At.UnixMilli(),
		Payload:  PayloadFromSnapshot(evt.Snapshot),
	}

	ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
	defer cancel()

	// Failures here only delay convergence; local state stays correct.
	if err := m.backend.Publish(ctx, wire); err != nil {
		m.logger.Warn("Failed to publish sync event", map[string]interface{}{
			"operation": "sync_publish_failed",
			"breaker":   evt.Breaker,
			"kind":      wire.Kind,
			"error":     err.Error(),
		})
	}
	if err := m.backend.SetState(ctx, evt.Breaker, wire.Payload, m.ttl); err != nil {
		m.logger.Warn("Failed to persist breaker state", map[string]interface{}{
			"operation": "sync_set_state_failed",
			"breaker":   evt.Breaker,
			"error":     err.Error(),
		})
	}
}

// handleRemote applies an incoming event to the matching breaker. Events
// from this worker and from newer schema versions are discarded.
func (m *Manager) handleRemote(evt Event) {
	if evt.WorkerID == m.workerID {
		return
	}
	if evt.Version > SchemaVersion {
		m.logger.Warn("Skipping sync event from newer schema", map[string]interface{}{
			"operation": "sync_event_skipped",
			"version":   evt.Version,
			"breaker":   evt.Provider,
		})
		return
	}

	m.mu.RLock()
	cb, ok := m.breakers[evt.Provider]
	m.mu.RUnlock()
	if !ok {
		return
	}

	snap, err := evt.Payload.Snapshot()
	if err != nil {
		m.logger.Warn("Discarding sync event with unreadable payload", map[string]interface{}{
			"operation": "sync_event_malformed",
			"breaker":   evt.Provider,
			"error":     err.Error(),
		})
		return
	}

	cb.ApplyRemote(snap)
}

// Close stops the subscription, waits for the publisher goroutine to exit,
// and releases the backend. Events still queued for publication are not
// published.
func (m *Manager) Close() error {
	m.cancel()
	if m.sub != nil {
		m.sub.Unsubscribe()
	}
	m.wg.Wait()
	return m.backend.Close()
}
