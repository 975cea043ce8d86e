// Package anthropic implements the adapter for Anthropic-style Messages
// APIs.
package anthropic

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

// DefaultBaseURL is the Messages API endpoint root.
const DefaultBaseURL = "https://api.anthropic.com/v1"

// APIVersion is sent on every request.
const APIVersion = "2023-06-01"

// AdapterVersion identifies this adapter build in Describe output.
const AdapterVersion = "1.0.0"

var supportedModels = []string{
	"claude-sonnet-4-20250514",
	"claude-3-7-sonnet-20250219",
	"claude-3-5-sonnet-20241022",
	"claude-3-5-haiku-20241022",
	"claude-3-opus-20240229",
}

// statusKinds is the explicit classification table for this provider
// kind. 529 is the native overloaded signal.
var statusKinds = map[int]core.ErrorKind{
	http.StatusUnauthorized:          core.KindAuth,
	http.StatusForbidden:             core.KindAuth,
	http.StatusTooManyRequests:       core.KindRateLimit,
	http.StatusBadRequest:            core.KindBadRequest,
	http.StatusNotFound:              core.KindBadRequest,
	http.StatusRequestEntityTooLarge: core.KindBadRequest,
	529:                              core.KindUpstream5xx,
}

// Adapter executes chat completions against one Anthropic-style service.
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
		a.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, core.NewProviderError(core.KindMalformed, "failed to build request", "", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", APIVersion)

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

// HealthProbe sends a minimal completion; the result is cached for 60
// seconds. A 400 still proves reachability and auth, so only transport
// failures, auth rejections and 5xx responses count as unhealthy.
func (a *Adapter) HealthProbe(ctx context.Context) bool {
	return a.CachedProbe(ctx, func(ctx context.Context) bool {
		probe := map[string]interface{}{
			"model":      a.probeModel(),
			"max_tokens": 1,
			"messages":   []map[string]string{{"role": "user", "content": "ping"}},
		}
		payload, err := json.Marshal(probe)
		if err != nil {
			return false
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			a.baseURL+"/messages", bytes.NewReader(payload))
		if err != nil {
			return false
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", a.apiKey)
		req.Header.Set("anthropic-version", APIVersion)

		resp, err := a.HTTPClient.Do(req)
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		return resp.StatusCode != http.StatusUnauthorized &&
			resp.StatusCode != http.StatusForbidden &&
			resp.StatusCode < 500
	})
}

func (a *Adapter) probeModel() string {
	if a.defaultModel != "" {
		return a.defaultModel
	}
	return supportedModels[0]
}

// Describe reports adapter identity and capabilities.
func (a *Adapter) Describe() core.ProviderInfo {
	return core.ProviderInfo{
		Name:            a.name,
		Kind:            string(core.KindAnthropic),
		SupportedModels: supportedModels,
		AdapterVersion:  AdapterVersion,
	}
}
