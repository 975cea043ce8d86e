// Package openai implements the adapter for OpenAI-style chat-completion
// APIs, including compatible gateways exposing /chat/completions.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flexiai/flexiai/core"
	"github.com/flexiai/flexiai/providers"
)

// statusKinds is the explicit classification table for this provider
// kind. Codes absent here fall to the generic ranges in ClassifyStatus.
var statusKinds = map[int]core.ErrorKind{
	http.StatusUnauthorized:          core.KindAuth,
	http.StatusForbidden:             core.KindAuth,
	http.StatusTooManyRequests:       core.KindRateLimit,
	http.StatusBadRequest:            core.KindBadRequest,
	http.StatusNotFound:              core.KindBadRequest,
	http.StatusUnprocessableEntity:   core.KindBadRequest,
	http.StatusRequestEntityTooLarge: core.KindBadRequest,
}

// Adapter executes chat completions against one OpenAI-style service.
type Adapter struct {
	*providers.BaseClient

	name         string
	apiKey       string
	baseURL      string
	defaultModel string
}

// NewAdapter creates an adapter from a provider config.
func NewAdapter(cfg core.ProviderConfig, logger core.Logger) *Adapter {
	return &Adapter{
		BaseClient:   providers.NewBaseClient(cfg.EffectiveTimeout(), logger),
		name:         cfg.Name,
		apiKey:       cfg.Credentials.APIKey,
		baseURL:      cfg.Option("base_url", DefaultBaseURL),
		defaultModel: cfg.DefaultModel,
	}
}

// Complete executes exactly one upstream chat completion.
func (a *Adapter) Complete(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	if a.apiKey == "" {
		return nil, core.NewProviderError(core.KindAuth, "API key not configured", "", nil)
	}

	native, err := buildRequest(req, a.defaultModel)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(native)
	if err != nil {
		return nil, core.NewProviderError(core.KindMalformed, "failed to marshal request", "", err)
	}

	a.LogRequest(ctx, a.name, native.Model, len(native.Messages))
	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, core.NewProviderError(core.KindMalformed, "failed to build request", "", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.ExecuteWithRetry(ctx, httpReq)
	if err != nil {
		kind := providers.ClassifyTransport(err)
		return nil, core.NewProviderError(kind, fmt.Sprintf("request failed: %v", err), "", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewProviderError(core.KindNetwork, "failed to read response body", "", err)
	}

	if resp.StatusCode != http.StatusOK {
		kind := a.ClassifyStatus(statusKinds, resp.StatusCode, a.name)
		message, code := parseError(body)
		return nil, core.NewProviderError(kind, message, code, nil)
	}

	result, err := parseResponse(body)
	if err != nil {
		return nil, err
	}

	a.LogResponse(ctx, a.name, result.Model, result.Usage, time.Since(start))
	return result, nil
}

// ValidateCredentials is a cheap local check.
func (a *Adapter) ValidateCredentials() bool {
	return a.apiKey != ""
}

// HealthProbe lists models upstream; the result is cached for 60 seconds.
func (a *Adapter) HealthProbe(ctx context.Context) bool {
	return a.CachedProbe(ctx, func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/models", nil)
		if err != nil {
			return false
		}
		req.Header.Set("Authorization", "Bearer "+a.apiKey)

		resp, err := a.HTTPClient.Do(req)
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		return resp.StatusCode == http.StatusOK
	})
}

// Describe reports adapter identity and capabilities.
func (a *Adapter) Describe() core.ProviderInfo {
	return core.ProviderInfo{
		Name:            a.name,
		Kind:            string(core.KindOpenAI),
		SupportedModels: supportedModels,
		AdapterVersion:  AdapterVersion,
	}
}
