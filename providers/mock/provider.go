// Package mock provides a scriptable in-process adapter for tests and
// local development.
package mock

import (
	"context"
	"sync"

	"github.com/flexiai/flexiai/core"
)

// AdapterVersion identifies this adapter build in Describe output.
const AdapterVersion = "1.0.0"

// Result is one scripted Complete outcome.
type Result struct {
	Response *core.ChatResponse
	Err      error
}

// Adapter returns scripted results in order, falling back to a canned
// success once the script is exhausted. A Handler overrides scripting
// entirely when set.
type Adapter struct {
	name string

	mu      sync.Mutex
	script  []Result
	idx     int
	calls   int
	handler func(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error)
	healthy bool
}

// NewAdapter creates a mock adapter.
func NewAdapter(name string) *Adapter {
	return &Adapter{name: name, healthy: true}
}

// Enqueue appends scripted results.
func (a *Adapter) Enqueue(results ...Result) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.script = append(a.script, results...)
	return a
}

// SetHandler installs a function that serves every Complete call.
func (a *Adapter) SetHandler(fn func(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = fn
}

// SetHealthy controls the HealthProbe result.
func (a *Adapter) SetHealthy(healthy bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.healthy = healthy
}

// Calls reports how many times Complete ran.
func (a *Adapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Complete serves the next scripted result.
func (a *Adapter) Complete(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	a.mu.Lock()
	a.calls++
	handler := a.handler
	var result *Result
	if handler == nil {
		if a.idx < len(a.script) {
			r := a.script[a.idx]
			a.idx++
			result = &r
		}
	}
	a.mu.Unlock()

	if handler != nil {
		return handler(ctx, req)
	}
	if result != nil {
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Response, nil
	}

	return &core.ChatResponse{
		Content:      "ok",
		Model:        "mock-model",
		Usage:        core.TokenUsage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
		FinishReason: core.FinishStop,
	}, nil
}

// ValidateCredentials always succeeds.
func (a *Adapter) ValidateCredentials() bool {
	return true
}

// HealthProbe reports the configured health.
func (a *Adapter) HealthProbe(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.healthy
}

// Describe reports adapter identity.
func (a *Adapter) Describe() core.ProviderInfo {
	return core.ProviderInfo{
		Name:           a.name,
		Kind:           string(core.KindMock),
		AdapterVersion: AdapterVersion,
	}
}
