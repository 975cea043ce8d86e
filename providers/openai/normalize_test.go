package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexiai/flexiai/core"
)

func TestBuildRequest(t *testing.T) {
	req := &core.ChatRequest{
		Messages: []core.Message{
			{Role: core.RoleSystem, Content: "be terse"},
			{Role: core.RoleUser, Content: "ping"},
		},
		MaxTokens: 128,
		TopP:      0.9,
		Stop:      []string{"END"},
	}

	native, err := buildRequest(req, "gpt-4o-mini")
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", native.Model)
	require.Len(t, native.Messages, 2)
	assert.Equal(t, "system", native.Messages[0].Role)
	assert.Equal(t, "user", native.Messages[1].Role)
	assert.Equal(t, core.DefaultTemperature, native.Temperature)
	assert.Equal(t, 128, native.MaxTokens)
	assert.Equal(t, []string{"END"}, native.Stop)
}

func TestBuildRequestModelPrecedence(t *testing.T) {
	req := &core.ChatRequest{
		Messages: []core.Message{{Role: core.RoleUser, Content: "x"}},
		Model:    "gpt-4o",
	}
	native, err := buildRequest(req, "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", native.Model, "request model wins over the configured default")
}

func TestBuildRequestNoModel(t *testing.T) {
	req := &core.ChatRequest{Messages: []core.Message{{Role: core.RoleUser, Content: "x"}}}
	_, err := buildRequest(req, "")
	require.Error(t, err)
	assert.Equal(t, core.KindMalformed, core.KindOf(err))
}

func TestParseResponse(t *testing.T) {
	body := []byte(`{
		"id": "chatcmpl-123",
		"model": "gpt-4o-mini-2024-07-18",
		"created": 1700000000,
		"choices": [{"message": {"content": "pong"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7},
		"system_fingerprint": "fp_abc"
	}`)

	resp, err := parseResponse(body)
	require.NoError(t, err)

	assert.Equal(t, "pong", resp.Content)
	assert.Equal(t, "gpt-4o-mini-2024-07-18", resp.Model)
	assert.Equal(t, core.TokenUsage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7}, resp.Usage)
	assert.Equal(t, core.FinishStop, resp.FinishReason)
	assert.Equal(t, "chatcmpl-123", resp.Metadata["id"])
	assert.Equal(t, "fp_abc", resp.Metadata["system_fingerprint"])
}

func TestParseResponseFinishReasons(t *testing.T) {
	tests := []struct {
		native string
		want   core.FinishReason
	}{
		{"stop", core.FinishStop},
		{"length", core.FinishLength},
		{"content_filter", core.FinishContentFilter},
		{"tool_calls", core.FinishToolCalls},
		{"function_call", core.FinishToolCalls},
		{"some_new_code", core.FinishOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, finishReason(tt.native), tt.native)
	}
}

func TestParseResponseMalformed(t *testing.T) {
	_, err := parseResponse([]byte("not json"))
	require.Error(t, err)
	assert.Equal(t, core.KindMalformed, core.KindOf(err))

	_, err = parseResponse([]byte(`{"choices": []}`))
	require.Error(t, err)
	assert.Equal(t, core.KindMalformed, core.KindOf(err))
}

func TestParseError(t *testing.T) {
	msg, code := parseError([]byte(`{"error": {"message": "quota exceeded", "type": "insufficient_quota", "code": "quota"}}`))
	assert.Equal(t, "quota exceeded", msg)
	assert.Equal(t, "quota", code)

	msg, code = parseError([]byte("<html>bad gateway</html>"))
	assert.Contains(t, msg, "bad gateway")
	assert.Empty(t, code)
}

func TestNormalizerIsDeterministic(t *testing.T) {
	req := &core.ChatRequest{
		Messages: []core.Message{{Role: core.RoleUser, Content: "same"}},
		Model:    "gpt-4o",
	}
	a, err := buildRequest(req, "")
	require.NoError(t, err)
	b, err := buildRequest(req, "")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestAdapterWithoutKeyFailsAuth(t *testing.T) {
	adapter := NewAdapter(core.ProviderConfig{
		Name:     "p1",
		Kind:     core.KindOpenAI,
		Priority: 1,
	}, nil)

	_, err := adapter.Complete(context.Background(), &core.ChatRequest{
		Messages: []core.Message{{Role: core.RoleUser, Content: "x"}},
	})
	require.Error(t, err)
	assert.Equal(t, core.KindAuth, core.KindOf(err))
	assert.False(t, adapter.ValidateCredentials())

	var pe *core.ProviderError
	require.True(t, errors.As(err, &pe))
}
