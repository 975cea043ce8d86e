package flexiai

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/flexiai/flexiai/core"
	"github.com/flexiai/flexiai/resilience"
	"github.com/flexiai/flexiai/statesync"
)

// ProviderStatus reports one provider's health as seen by this worker.
type ProviderStatus struct {
	BreakerState  string     `json:"breaker_state"`
	FailureCount  int        `json:"failure_count"`
	SuccessCount  int        `json:"success_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	Healthy       bool       `json:"healthy"`
}

// Client is the dispatcher: it owns a provider registry, drives the
// failover loop, and tracks per-process statistics. Dispatch is safe for
// concurrent callers; registration belongs to the startup phase.
type Client struct {
	registry  *Registry
	syncMgr   *statesync.Manager
	logger    core.Logger
	telemetry core.Telemetry
	stats     *stats
	closed    atomic.Bool
}

// New builds a client from a fully-constructed config and starts its sync
// manager. Provider registration order is preserved for priority ties.
func New(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	telemetry := cfg.Telemetry
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}

	backend := buildSyncBackend(cfg.Sync, logger)
	syncMgr := statesync.NewManager(backend, statesync.ManagerOptions{
		WorkerID: cfg.Sync.WorkerID,
		StateTTL: cfg.Sync.StateTTL,
		Logger:   logger,
	})

	registry := newRegistry(cfg.Breaker, syncMgr, logger, cfg.BreakerMetrics)
	for _, pc := range cfg.Providers {
		if err := registry.Register(pc); err != nil {
			_ = syncMgr.Close()
			return nil, err
		}
	}

	if err := syncMgr.Start(context.Background()); err != nil {
		_ = syncMgr.Close()
		return nil, fmt.Errorf("start sync manager: %w", err)
	}

	return &Client{
		registry:  registry,
		syncMgr:   syncMgr,
		logger:    logger,
		telemetry: telemetry,
		stats:     newStats(),
	}, nil
}

// buildSyncBackend connects the configured backend, degrading to the
// in-process stub when sync is disabled or Redis is unreachable.
func buildSyncBackend(cfg SyncConfig, logger core.Logger) statesync.Backend {
	if !cfg.Enabled {
		return statesync.NewInProcessBackend()
	}

	backend, err := statesync.NewRedisBackend(statesync.RedisBackendOptions{
		RedisURL: cfg.RedisURL,
		Prefix:   cfg.Prefix,
		Logger:   logger,
	})
	if err != nil {
		logger.Warn("Sync backend unreachable, using in-process state only", map[string]interface{}{
			"operation": "sync_backend_fallback",
			"error":     err.Error(),
		})
		return statesync.NewInProcessBackend()
	}
	return backend
}

// Register exposes registration for callers that configure providers
// after construction. Finish configuration before serving traffic.
func (c *Client) Register(cfg core.ProviderConfig) error {
	return c.registry.Register(cfg)
}

// Dispatch serves one chat completion, failing over across providers in
// priority order. The context deadline bounds the whole dispatch; each
// attempt additionally respects the provider's own timeout.
func (c *Client) Dispatch(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	if c.closed.Load() {
		return nil, core.ErrClientClosed
	}

	if err := req.Validate(); err != nil {
		return nil, &ValidationError{Err: err}
	}

	ctx, span := c.telemetry.StartSpan(ctx, "flexiai.dispatch")
	defer span.End()

	candidates := c.registry.listByPriority()
	if len(candidates) == 0 {
		return nil, &AllProvidersFailed{Reason: "no providers registered"}
	}

	c.stats.recordDispatch()
	requestID := uuid.NewString()
	span.SetAttribute("flexiai.request_id", requestID)
	span.SetAttribute("flexiai.candidates", len(candidates))

	attempts := make([]Attempt, 0, len(candidates))
	for _, entry := range candidates {
		name := entry.config.Name

		if ctx.Err() != nil {
			c.stats.recordExhausted()
			return nil, &AllProvidersFailed{Attempts: attempts, Reason: "deadline exceeded"}
		}

		start := time.Now()
		var resp *core.ChatResponse
		attemptCtx, cancel := attemptContext(ctx, entry.config.EffectiveTimeout())
		err := entry.breaker.Execute(attemptCtx, func() error {
			r, cerr := entry.adapter.Complete(attemptCtx, req)
			if cerr != nil {
				return cerr
			}
			resp = r
			return nil
		})
		cancel()
		duration := time.Since(start)

		if err == nil {
			out := *resp
			out.Provider = name
			out.LatencyMS = duration.Milliseconds()
			c.stats.recordSuccess(name, duration)

			span.SetAttribute("flexiai.provider", name)
			c.logger.InfoWithContext(ctx, "Dispatch served", map[string]interface{}{
				"operation":  "dispatch_success",
				"request_id": requestID,
				"provider":   name,
				"model":      out.Model,
				"latency_ms": out.LatencyMS,
				"attempts":   len(attempts) + 1,
			})
			return &out, nil
		}

		if errors.Is(err, core.ErrCircuitBreakerOpen) {
			attempts = append(attempts, Attempt{
				Provider:  name,
				StartedAt: start,
				Duration:  duration,
				Outcome:   OutcomeRejectedOpen,
			})
			c.stats.recordRejected(name)
			continue
		}

		kind := core.KindOf(err)
		outcome := OutcomeFailTransient
		if !kind.Retryable() {
			outcome = OutcomeFailPermanent
		}
		attempts = append(attempts, Attempt{
			Provider:  name,
			StartedAt: start,
			Duration:  duration,
			Outcome:   outcome,
			ErrorKind: kind,
			Err:       err,
		})
		c.stats.recordFailure(name, duration)

		c.logger.WarnWithContext(ctx, "Provider attempt failed", map[string]interface{}{
			"operation":  "dispatch_attempt_failed",
			"request_id": requestID,
			"provider":   name,
			"error_kind": string(kind),
			"outcome":    string(outcome),
			"error":      err.Error(),
		})

		// An expired overall deadline aborts the dispatch; the provider
		// just attempted was already charged with the timeout.
		if ctx.Err() != nil {
			c.stats.recordExhausted()
			failed := &AllProvidersFailed{Attempts: attempts, Reason: "deadline exceeded"}
			span.RecordError(failed)
			return nil, failed
		}
	}

	c.stats.recordExhausted()
	failed := &AllProvidersFailed{Attempts: attempts}
	span.RecordError(failed)
	c.logger.ErrorWithContext(ctx, "All providers failed", map[string]interface{}{
		"operation":  "dispatch_exhausted",
		"request_id": requestID,
		"attempts":   len(attempts),
	})
	return nil, failed
}

// attemptContext bounds one attempt by the provider timeout while never
// extending the overall deadline.
func attemptContext(ctx context.Context, providerTimeout time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < providerTimeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, providerTimeout)
}

// ProviderStatus reports breaker and health state for every registered
// provider. Health probes may hit the upstream but are cached by adapters
// for up to 60 seconds.
func (c *Client) ProviderStatus(ctx context.Context) map[string]ProviderStatus {
	out := make(map[string]ProviderStatus)
	for _, entry := range c.registry.listByPriority() {
		snap := entry.breaker.Snapshot()
		status := ProviderStatus{
			BreakerState:  snap.State.String(),
			FailureCount:  snap.ConsecutiveFailures,
			SuccessCount:  snap.SuccessesSinceClose,
			LastFailureAt: snap.LastFailureAt,
		}
		status.Healthy = snap.State != resilience.StateOpen && entry.adapter.HealthProbe(ctx)
		out[entry.config.Name] = status
	}
	return out
}

// Stats returns a snapshot of the per-process counters.
func (c *Client) Stats() StatsSnapshot {
	return c.stats.snapshot()
}

// RemoveProvider drops a provider from the registry. Like Register, this
// belongs to the configuration phase, not the serving phase.
func (c *Client) RemoveProvider(name string) bool {
	return c.registry.remove(name)
}

// ResetBreakers forces the named breakers closed, or all of them when no
// names are given.
func (c *Client) ResetBreakers(names ...string) {
	c.registry.resetBreakers(names...)
}

// Describe returns adapter descriptions in priority order.
func (c *Client) Describe() []core.ProviderInfo {
	entries := c.registry.listByPriority()
	out := make([]core.ProviderInfo, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.adapter.Describe())
	}
	return out
}

// Close drains the sync subscription and releases adapter resources. The
// client rejects dispatches afterwards.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	for _, entry := range c.registry.listByPriority() {
		if closer, ok := entry.adapter.(interface{ CloseIdleConnections() }); ok {
			closer.CloseIdleConnections()
		}
	}
	return c.syncMgr.Close()
}
