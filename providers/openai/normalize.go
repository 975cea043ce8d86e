package openai

import (
	"encoding/json"
	"fmt"

	"github.com/flexiai/flexiai/core"
)

// Wire shapes for the /chat/completions API. Only the fields this adapter
// reads or writes are declared; undeclared response fields are dropped.

type chatMessage struct {
	Role     string          `json:"role"`
	Content  string          `json:"content"`
	Name     string          `json:"name,omitempty"`
	ToolCall json.RawMessage `json:"tool_call_id,omitempty"`
}

type chatCompletionRequest struct {
	Model       string            `json:"model"`
	Messages    []chatMessage     `json:"messages"`
	Temperature float32           `json:"temperature,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	TopP        float32           `json:"top_p,omitempty"`
	Stop        []string          `json:"stop,omitempty"`
	Tools       []json.RawMessage `json:"tools,omitempty"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	SystemFingerprint string `json:"system_fingerprint,omitempty"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// buildRequest translates the neutral shape to the native one. Pure and
// deterministic; the only error path is malformed input.
func buildRequest(req *core.ChatRequest, defaultModel string) (*chatCompletionRequest, error) {
	model := req.Model
	if model == "" {
		model = defaultModel
	}
	if model == "" {
		return nil, core.NewProviderError(core.KindMalformed, "no model specified and no default configured", "", nil)
	}

	messages := make([]chatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, chatMessage{
			Role:     string(m.Role),
			Content:  m.Content,
			Name:     m.Name,
			ToolCall: m.ToolCall,
		})
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = core.DefaultTemperature
	}

	return &chatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Tools:       req.Tools,
	}, nil
}

// finishReason maps native codes to the neutral enum; unknown codes
// collapse to FinishOther.
func finishReason(native string) core.FinishReason {
	switch native {
	case "stop":
		return core.FinishStop
	case "length":
		return core.FinishLength
	case "content_filter":
		return core.FinishContentFilter
	case "tool_calls", "function_call":
		return core.FinishToolCalls
	default:
		return core.FinishOther
	}
}

// parseResponse translates the native response to the neutral shape.
func parseResponse(body []byte) (*core.ChatResponse, error) {
	var native chatCompletionResponse
	if err := json.Unmarshal(body, &native); err != nil {
		return nil, core.NewProviderError(core.KindMalformed, "unparseable completion response", "", err)
	}
	if len(native.Choices) == 0 {
		return nil, core.NewProviderError(core.KindMalformed, "completion response has no choices", "", nil)
	}

	choice := native.Choices[0]
	metadata := map[string]interface{}{
		"id":      native.ID,
		"created": native.Created,
	}
	if native.SystemFingerprint != "" {
		metadata["system_fingerprint"] = native.SystemFingerprint
	}
	if len(native.Choices) > 1 {
		metadata["choice_count"] = len(native.Choices)
	}

	return &core.ChatResponse{
		Content: choice.Message.Content,
		Model:   native.Model,
		Usage: core.TokenUsage{
			PromptTokens:     native.Usage.PromptTokens,
			CompletionTokens: native.Usage.CompletionTokens,
			TotalTokens:      native.Usage.TotalTokens,
		},
		FinishReason: finishReason(choice.FinishReason),
		Metadata:     metadata,
	}, nil
}

// parseError extracts the native error envelope for classification.
func parseError(body []byte) (message, code string) {
	var native errorResponse
	if err := json.Unmarshal(body, &native); err != nil || native.Error.Message == "" {
		return fmt.Sprintf("upstream error: %s", truncate(string(body), 200)), ""
	}
	if native.Error.Code != "" {
		return native.Error.Message, native.Error.Code
	}
	return native.Error.Message, native.Error.Type
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
