// Package flexiai is a resilient request-dispatch layer that fronts
// multiple generative-AI chat-completion services with one neutral
// request/response contract. Providers are tried in priority order; a
// per-provider circuit breaker skips unhealthy ones, and breaker state is
// kept consistent across worker processes through a sync backend.
//
// Typical usage:
//
//	client, err := flexiai.New(flexiai.Config{
//	    Providers: []core.ProviderConfig{
//	        {Name: "primary", Kind: core.KindOpenAI, Priority: 1, Credentials: core.Credentials{APIKey: key}},
//	        {Name: "fallback", Kind: core.KindAnthropic, Priority: 2, Credentials: core.Credentials{APIKey: key2}},
//	    },
//	})
//	resp, err := client.Dispatch(ctx, &core.ChatRequest{
//	    Messages: []core.Message{{Role: core.RoleUser, Content: "ping"}},
//	})
package flexiai

import (
	"time"

	"github.com/flexiai/flexiai/core"
	"github.com/flexiai/flexiai/resilience"
)

// BreakerSettings configures the circuit breakers built at registration.
// Zero fields take the resilience package defaults.
type BreakerSettings struct {
	FailureThreshold   int
	RecoveryTimeout    time.Duration
	HalfOpenMaxCalls   int
	ExpectedErrorKinds []core.ErrorKind
}

func (b BreakerSettings) toConfig(name string, logger core.Logger, metrics resilience.MetricsCollector) resilience.Config {
	cfg := resilience.DefaultConfig(name)
	if b.FailureThreshold != 0 {
		cfg.FailureThreshold = b.FailureThreshold
	}
	if b.RecoveryTimeout != 0 {
		cfg.RecoveryTimeout = b.RecoveryTimeout
	}
	if b.HalfOpenMaxCalls != 0 {
		cfg.HalfOpenMaxCalls = b.HalfOpenMaxCalls
	}
	if b.ExpectedErrorKinds != nil {
		cfg.ExpectedErrorKinds = b.ExpectedErrorKinds
	}
	cfg.Logger = logger
	if metrics != nil {
		cfg.Metrics = metrics
	}
	return cfg
}

// SyncConfig configures cross-worker breaker-state synchronization. When
// disabled, or when the Redis backend is unreachable at startup, the
// client degrades to an in-process backend with identical semantics minus
// cross-process visibility.
type SyncConfig struct {
	Enabled  bool
	RedisURL string

	// Prefix namespaces keys and the event channel; defaults to "flexiai".
	Prefix string

	// WorkerID overrides the generated worker identity.
	WorkerID string

	// StateTTL overrides the default one-hour record TTL.
	StateTTL time.Duration
}

// Config is the fully-constructed client configuration. The client never
// reads files or environment variables; see the config package for a YAML
// loader that produces this struct.
type Config struct {
	Providers []core.ProviderConfig
	Breaker   BreakerSettings
	Sync      SyncConfig

	Logger    core.Logger
	Telemetry core.Telemetry

	// BreakerMetrics receives breaker counters; nil disables them.
	BreakerMetrics resilience.MetricsCollector
}
