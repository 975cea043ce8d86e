// Package vertex implements the adapter for Google Vertex AI / Gemini
// generateContent APIs.
package vertex

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

// DefaultBaseURL is the Generative Language endpoint root; Vertex-hosted
// deployments override it via the base_url option.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// AdapterVersion identifies this adapter build in Describe output.
const AdapterVersion = "1.0.0"

var supportedModels = []string{
	"gemini-2.0-flash",
	"gemini-1.5-pro",
	"gemini-1.5-flash",
}

var statusKinds = map[int]core.ErrorKind{
	http.StatusUnauthorized:    core.KindAuth,
	http.StatusForbidden:       core.KindAuth,
	http.StatusTooManyRequests: core.KindRateLimit,
	http.StatusBadRequest:      core.KindBadRequest,
	http.StatusNotFound:        core.KindBadRequest,
}

// Adapter executes chat completions against one Gemini-style service.
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

func (a *Adapter) endpoint(model string) string {
	return fmt.Sprintf("%s/models/%s:generateContent?key=%s", a.baseURL, model, a.apiKey)
}

// Complete executes exactly one upstream chat completion.
func (a *Adapter) Complete(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	if a.apiKey == "" {
		return nil, core.NewProviderError(core.KindAuth, "API key not configured", "", nil)
	}

	model := req.Model
	if model == "" {
		model = a.defaultModel
	}
	if model == "" {
		return nil, core.NewProviderError(core.KindMalformed, "no model specified and no default configured", "", nil)
	}

	native, err := buildRequest(req)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(native)
	if err != nil {
		return nil, core.NewProviderError(core.KindMalformed, "failed to marshal request", "", err)
	}

	a.LogRequest(ctx, a.name, model, len(native.Contents))
	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(model), bytes.NewReader(payload))
	if err != nil {
		return nil, core.NewProviderError(core.KindMalformed, "failed to build request", "", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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

	result, err := parseResponse(body, model)
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
		url := fmt.Sprintf("%s/models?key=%s", a.baseURL, a.apiKey)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false
		}
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
		Kind:            string(core.KindVertex),
		SupportedModels: supportedModels,
		AdapterVersion:  AdapterVersion,
	}
}
