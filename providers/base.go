// Package providers holds the shared adapter plumbing: an instrumented
// HTTP client with bounded internal retry, and the status-code→ErrorKind
// classification helpers every adapter builds its mapping table on.
package providers

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/flexiai/flexiai/core"
)

// healthCacheTTL bounds how long a probe result may be served from cache.
const healthCacheTTL = 60 * time.Second

// BaseClient provides common functionality for all adapters.
type BaseClient struct {
	// HTTPClient carries the per-provider timeout and an OTel-instrumented
	// transport so upstream calls appear in traces.
	HTTPClient *http.Client

	Logger core.Logger

	// Internal retry applies only to rate-limit and upstream-5xx results,
	// and only while the deadline allows.
	MaxRetries int
	RetryDelay time.Duration

	probeMu sync.Mutex
	probeOK bool
	probeAt time.Time
}

// NewBaseClient creates a base client with defaults.
func NewBaseClient(timeout time.Duration, logger core.Logger) *BaseClient {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &BaseClient{
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Logger:     logger,
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// ExecuteWithRetry performs an HTTP request, retrying 429 and 5xx
// responses with exponential backoff and jitter. Network failures and 4xx
// responses return immediately; the dispatcher handles those by failing
// over, not by hammering the same provider.
func (b *BaseClient) ExecuteWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastStatus int

	for attempt := 0; attempt <= b.MaxRetries; attempt++ {
		clone, err := cloneRequest(ctx, req)
		if err != nil {
			return nil, err
		}
		resp, err := b.HTTPClient.Do(clone)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
			return resp, nil
		}

		lastStatus = resp.StatusCode
		if attempt == b.MaxRetries {
			return resp, nil
		}

		delay := b.RetryDelay * time.Duration(1<<uint(attempt))
		delay += time.Duration(rand.Int63n(int64(delay)/4 + 1))

		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
			// Not enough budget for another attempt; surface this response
			// to the classifier instead of burning the deadline.
			return resp, nil
		}
		_ = resp.Body.Close()

		b.Logger.Debug("Retrying upstream request", map[string]interface{}{
			"operation":   "adapter_retry",
			"attempt":     attempt + 1,
			"max_retries": b.MaxRetries,
			"status":      lastStatus,
			"delay_ms":    delay.Milliseconds(),
		})

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d retries (status %d)", b.MaxRetries, lastStatus)
}

// cloneRequest produces a retryable copy with a fresh body. Requests
// built with bytes.Reader bodies carry GetBody, so replays are cheap.
func cloneRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	clone := req.Clone(ctx)
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	}
	return clone, nil
}

// CloseIdleConnections releases pooled upstream connections.
func (b *BaseClient) CloseIdleConnections() {
	b.HTTPClient.CloseIdleConnections()
}

// CachedProbe serves a health probe from cache for up to 60 seconds.
func (b *BaseClient) CachedProbe(ctx context.Context, probe func(ctx context.Context) bool) bool {
	b.probeMu.Lock()
	defer b.probeMu.Unlock()

	if time.Since(b.probeAt) < healthCacheTTL && !b.probeAt.IsZero() {
		return b.probeOK
	}
	b.probeOK = probe(ctx)
	b.probeAt = time.Now()
	return b.probeOK
}

// ClassifyStatus maps an HTTP status to an ErrorKind using the provider's
// explicit table; unmapped codes fall back to the generic ranges and are
// logged so novel codes surface in operations.
func (b *BaseClient) ClassifyStatus(table map[int]core.ErrorKind, status int, provider string) core.ErrorKind {
	if kind, ok := table[status]; ok {
		return kind
	}
	if status >= 500 {
		return core.KindUpstream5xx
	}
	b.Logger.Warn("Unmapped upstream status code", map[string]interface{}{
		"operation": "error_classification",
		"provider":  provider,
		"status":    status,
	})
	return core.KindUnknown
}

// ClassifyTransport maps a transport-level error to an ErrorKind.
func ClassifyTransport(err error) core.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.KindTimeout
	}
	return core.KindNetwork
}

// LogRequest logs an outgoing upstream request.
func (b *BaseClient) LogRequest(ctx context.Context, provider, model string, messageCount int) {
	b.Logger.DebugWithContext(ctx, "Upstream request", map[string]interface{}{
		"operation": "adapter_request",
		"provider":  provider,
		"model":     model,
		"messages":  messageCount,
	})
}

// LogResponse logs an upstream response.
func (b *BaseClient) LogResponse(ctx context.Context, provider, model string, usage core.TokenUsage, duration time.Duration) {
	b.Logger.DebugWithContext(ctx, "Upstream response", map[string]interface{}{
		"operation":         "adapter_response",
		"provider":          provider,
		"model":             model,
		"prompt_tokens":     usage.PromptTokens,
		"completion_tokens": usage.CompletionTokens,
		"total_tokens":      usage.TotalTokens,
		"duration_ms":       duration.Milliseconds(),
	})
}
