package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexiai/flexiai/core"
)

func TestExecuteWithRetryRecoversFromServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewBaseClient(10*time.Second, nil)
	client.RetryDelay = time.Millisecond

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := client.ExecuteWithRetry(context.Background(), req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestExecuteWithRetryGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewBaseClient(10*time.Second, nil)
	client.RetryDelay = time.Millisecond
	client.MaxRetries = 2

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := client.ExecuteWithRetry(context.Background(), req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	// The final 429 is surfaced for classification, not swallowed.
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestExecuteWithRetryDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewBaseClient(10*time.Second, nil)
	client.RetryDelay = time.Millisecond

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := client.ExecuteWithRetry(context.Background(), req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, int32(1), calls.Load())
}

func TestClassifyStatus(t *testing.T) {
	client := NewBaseClient(time.Second, nil)
	table := map[int]core.ErrorKind{
		http.StatusUnauthorized:    core.KindAuth,
		http.StatusTooManyRequests: core.KindRateLimit,
	}

	assert.Equal(t, core.KindAuth, client.ClassifyStatus(table, 401, "p"))
	assert.Equal(t, core.KindRateLimit, client.ClassifyStatus(table, 429, "p"))
	assert.Equal(t, core.KindUpstream5xx, client.ClassifyStatus(table, 503, "p"), "unmapped 5xx falls through")
	assert.Equal(t, core.KindUnknown, client.ClassifyStatus(table, 418, "p"), "unmapped 4xx is unknown")
}

func TestClassifyTransport(t *testing.T) {
	assert.Equal(t, core.KindTimeout, ClassifyTransport(context.DeadlineExceeded))
	assert.Equal(t, core.KindNetwork, ClassifyTransport(assertAnError()))
}

func assertAnError() error {
	return &timeoutlessError{}
}

type timeoutlessError struct{}

func (e *timeoutlessError) Error() string { return "connection refused" }

func TestCachedProbe(t *testing.T) {
	client := NewBaseClient(time.Second, nil)

	var probes int
	result := client.CachedProbe(context.Background(), func(context.Context) bool {
		probes++
		return true
	})
	assert.True(t, result)

	// Second call within the cache window must not re-probe.
	result = client.CachedProbe(context.Background(), func(context.Context) bool {
		probes++
		return false
	})
	assert.True(t, result)
	assert.Equal(t, 1, probes)
}
