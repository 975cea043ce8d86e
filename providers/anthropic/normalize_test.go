package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexiai/flexiai/core"
)

func TestBuildRequestExtractsSystem(t *testing.T) {
	req := &core.ChatRequest{
		Messages: []core.Message{
			{Role: core.RoleSystem, Content: "be terse"},
			{Role: core.RoleSystem, Content: "answer in English"},
			{Role: core.RoleUser, Content: "ping"},
			{Role: core.RoleAssistant, Content: "pong"},
			{Role: core.RoleUser, Content: "again"},
		},
		Model: "claude-3-5-haiku-20241022",
	}

	native, err := buildRequest(req, "")
	require.NoError(t, err)

	assert.Equal(t, "be terse\n\nanswer in English", native.System)
	require.Len(t, native.Messages, 3)
	for _, m := range native.Messages {
		assert.NotEqual(t, "system", m.Role, "system turns must move to the system field")
	}
	assert.Equal(t, "user", native.Messages[0].Role)
	assert.Equal(t, "assistant", native.Messages[1].Role)
}

func TestBuildRequestMandatoryTokenCap(t *testing.T) {
	req := &core.ChatRequest{
		Messages: []core.Message{{Role: core.RoleUser, Content: "x"}},
		Model:    "claude-3-5-haiku-20241022",
	}
	native, err := buildRequest(req, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxTokens, native.MaxTokens, "token cap is mandatory upstream")

	req.MaxTokens = 42
	native, err = buildRequest(req, "")
	require.NoError(t, err)
	assert.Equal(t, 42, native.MaxTokens)
}

func TestBuildRequestClampsTemperature(t *testing.T) {
	req := &core.ChatRequest{
		Messages:    []core.Message{{Role: core.RoleUser, Content: "x"}},
		Model:       "claude-3-5-haiku-20241022",
		Temperature: 1.8,
	}
	native, err := buildRequest(req, "")
	require.NoError(t, err)
	assert.Equal(t, float32(1), native.Temperature)
}

func TestBuildRequestToolRoleFoldsToUser(t *testing.T) {
	req := &core.ChatRequest{
		Messages: []core.Message{
			{Role: core.RoleUser, Content: "run it"},
			{Role: core.RoleAssistant, Content: "running"},
			{Role: core.RoleTool, Content: `{"result": 4}`},
		},
		Model: "claude-3-5-haiku-20241022",
	}
	native, err := buildRequest(req, "")
	require.NoError(t, err)
	require.Len(t, native.Messages, 3)
	assert.Equal(t, "user", native.Messages[2].Role)
}

func TestParseResponseConcatenatesBlocks(t *testing.T) {
	body := []byte(`{
		"id": "msg_01",
		"model": "claude-3-5-haiku-20241022",
		"content": [
			{"type": "text", "text": "Hello"},
			{"type": "text", "text": ", world"}
		],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 10, "output_tokens": 4}
	}`)

	resp, err := parseResponse(body)
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", resp.Content)
	assert.Equal(t, core.FinishStop, resp.FinishReason)
	assert.Equal(t, core.TokenUsage{PromptTokens: 10, CompletionTokens: 4, TotalTokens: 14}, resp.Usage)
	assert.Equal(t, "msg_01", resp.Metadata["id"])
	assert.Equal(t, "end_turn", resp.Metadata["stop_reason"])
}

func TestParseResponseFinishReasons(t *testing.T) {
	tests := []struct {
		native string
		want   core.FinishReason
	}{
		{"end_turn", core.FinishStop},
		{"stop_sequence", core.FinishStop},
		{"max_tokens", core.FinishLength},
		{"tool_use", core.FinishToolCalls},
		{"refusal", core.FinishContentFilter},
		{"brand_new_reason", core.FinishOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, finishReason(tt.native), tt.native)
	}
}

func TestParseResponseNoText(t *testing.T) {
	_, err := parseResponse([]byte(`{"id": "msg", "content": [], "stop_reason": "end_turn"}`))
	require.Error(t, err)
	assert.Equal(t, core.KindMalformed, core.KindOf(err))
}

func TestParseError(t *testing.T) {
	msg, code := parseError([]byte(`{"type": "error", "error": {"type": "overloaded_error", "message": "Overloaded"}}`))
	assert.Equal(t, "Overloaded", msg)
	assert.Equal(t, "overloaded_error", code)
}
