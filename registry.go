package flexiai

import (
	"fmt"
	"sort"

	"github.com/flexiai/flexiai/core"
	"github.com/flexiai/flexiai/providers/anthropic"
	"github.com/flexiai/flexiai/providers/mock"
	"github.com/flexiai/flexiai/providers/openai"
	"github.com/flexiai/flexiai/providers/vertex"
	"github.com/flexiai/flexiai/resilience"
	"github.com/flexiai/flexiai/statesync"
)

// providerEntry binds a config, its adapter, and its breaker.
type providerEntry struct {
	config  core.ProviderConfig
	adapter core.ChatProvider
	breaker *resilience.CircuitBreaker
	seq     int // registration order, breaks priority ties
}

// Registry holds the priority-ordered provider set. Registration is a
// startup-only phase and is not safe against concurrent calls; reads are
// safe once traffic starts.
type Registry struct {
	entries map[string]*providerEntry
	ordered []*providerEntry
	nextSeq int

	breaker  BreakerSettings
	syncMgr  *statesync.Manager
	logger   core.Logger
	metrics  resilience.MetricsCollector
}

func newRegistry(breaker BreakerSettings, syncMgr *statesync.Manager, logger core.Logger, metrics resilience.MetricsCollector) *Registry {
	return &Registry{
		entries: make(map[string]*providerEntry),
		breaker: breaker,
		syncMgr: syncMgr,
		logger:  logger,
		metrics: metrics,
	}
}

// newAdapter is the compile-time kind→constructor table. Adding a kind
// means adding a case here plus the adapter package.
func newAdapter(cfg core.ProviderConfig, logger core.Logger) (core.ChatProvider, error) {
	switch cfg.Kind {
	case core.KindOpenAI:
		return openai.NewAdapter(cfg, logger), nil
	case core.KindAnthropic:
		return anthropic.NewAdapter(cfg, logger), nil
	case core.KindVertex:
		return vertex.NewAdapter(cfg, logger), nil
	case core.KindMock:
		return mock.NewAdapter(cfg.Name), nil
	default:
		return nil, fmt.Errorf("provider %q: kind %q: %w", cfg.Name, cfg.Kind, core.ErrUnsupportedKind)
	}
}

// Register validates the config, constructs the adapter and breaker, and
// wires the breaker into the sync manager.
func (r *Registry) Register(cfg core.ProviderConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, exists := r.entries[cfg.Name]; exists {
		return fmt.Errorf("provider %q: %w", cfg.Name, core.ErrDuplicateProvider)
	}

	adapter, err := newAdapter(cfg, r.logger)
	if err != nil {
		return err
	}

	breaker, err := resilience.NewCircuitBreaker(r.breaker.toConfig(cfg.Name, r.logger, r.metrics))
	if err != nil {
		return err
	}
	if r.syncMgr != nil {
		r.syncMgr.Register(breaker)
	}

	entry := &providerEntry{
		config:  cfg,
		adapter: adapter,
		breaker: breaker,
		seq:     r.nextSeq,
	}
	r.nextSeq++
	r.entries[cfg.Name] = entry
	r.ordered = append(r.ordered, entry)
	sort.SliceStable(r.ordered, func(i, j int) bool {
		if r.ordered[i].config.Priority != r.ordered[j].config.Priority {
			return r.ordered[i].config.Priority < r.ordered[j].config.Priority
		}
		return r.ordered[i].seq < r.ordered[j].seq
	})

	r.logger.Info("Provider registered", map[string]interface{}{
		"operation": "provider_registered",
		"provider":  cfg.Name,
		"kind":      string(cfg.Kind),
		"priority":  cfg.Priority,
	})
	return nil
}

// listByPriority returns the entries in failover order: priority
// ascending, registration order breaking ties. The returned slice is
// shared; callers must not mutate it.
func (r *Registry) listByPriority() []*providerEntry {
	return r.ordered
}

// get returns the entry for a provider name.
func (r *Registry) get(name string) (*providerEntry, bool) {
	entry, ok := r.entries[name]
	return entry, ok
}

// remove drops a provider. Like Register, not safe under traffic.
func (r *Registry) remove(name string) bool {
	entry, ok := r.entries[name]
	if !ok {
		return false
	}
	delete(r.entries, name)
	for i, e := range r.ordered {
		if e == entry {
			r.ordered = append(r.ordered[:i], r.ordered[i+1:]...)
			break
		}
	}
	return true
}

// resetBreakers forces the named breakers (or all) closed.
func (r *Registry) resetBreakers(names ...string) {
	if len(names) == 0 {
		for _, entry := range r.ordered {
			entry.breaker.Reset()
		}
		return
	}
	for _, name := range names {
		if entry, ok := r.entries[name]; ok {
			entry.breaker.Reset()
		}
	}
}
