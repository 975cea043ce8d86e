package flexiai

import (
	"context"
	"sync"

	"github.com/flexiai/flexiai/core"
)

// A process-wide default client, for callers that want "ask the AI"
// ergonomics without threading a Client around. The core never depends on
// it; multiple explicit Clients coexist freely.

var (
	defaultMu     sync.RWMutex
	defaultClient *Client
)

// SetDefault installs the process-wide default client.
func SetDefault(c *Client) {
	defaultMu.Lock()
	defaultClient = c
	defaultMu.Unlock()
}

// Default returns the process-wide default client, or nil when unset.
func Default() *Client {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultClient
}

// Dispatch serves a request through the default client.
func Dispatch(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	c := Default()
	if c == nil {
		return nil, core.ErrNoProviders
	}
	return c.Dispatch(ctx, req)
}

// Ask sends a single user prompt through the default client and returns
// the completion text.
func Ask(ctx context.Context, prompt string) (string, error) {
	resp, err := Dispatch(ctx, &core.ChatRequest{
		Messages: []core.Message{{Role: core.RoleUser, Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
