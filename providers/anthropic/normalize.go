package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flexiai/flexiai/core"
)

// The Messages API requires an explicit token cap on every request.
const DefaultMaxTokens = 1024

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model         string    `json:"model"`
	Messages      []message `json:"messages"`
	System        string    `json:"system,omitempty"`
	MaxTokens     int       `json:"max_tokens"`
	Temperature   float32   `json:"temperature,omitempty"`
	TopP          float32   `json:"top_p,omitempty"`
	TopK          int       `json:"top_k,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messagesResponse struct {
	ID           string         `json:"id"`
	Model        string         `json:"model"`
	Content      []contentBlock `json:"content"`
	StopReason   string         `json:"stop_reason"`
	StopSequence string         `json:"stop_sequence,omitempty"`
	Usage        struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// buildRequest translates the neutral shape to the Messages API shape.
// System messages move to the dedicated system field; the tool role has
// no native equivalent and is folded into the user turn stream.
func buildRequest(req *core.ChatRequest, defaultModel string) (*messagesRequest, error) {
	model := req.Model
	if model == "" {
		model = defaultModel
	}
	if model == "" {
		return nil, core.NewProviderError(core.KindMalformed, "no model specified and no default configured", "", nil)
	}

	var system []string
	messages := make([]message, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case core.RoleSystem:
			system = append(system, m.Content)
		case core.RoleAssistant:
			messages = append(messages, message{Role: "assistant", Content: m.Content})
		case core.RoleUser, core.RoleTool:
			messages = append(messages, message{Role: "user", Content: m.Content})
		default:
			return nil, core.NewProviderError(core.KindMalformed,
				fmt.Sprintf("unmappable role %q", m.Role), "", nil)
		}
	}
	if len(messages) == 0 {
		return nil, core.NewProviderError(core.KindMalformed, "no non-system messages", "", nil)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = core.DefaultTemperature
	}
	// Native temperature range is [0,1]; the neutral range extends to 2.
	if temperature > 1 {
		temperature = 1
	}

	return &messagesRequest{
		Model:         model,
		Messages:      messages,
		System:        strings.Join(system, "\n\n"),
		MaxTokens:     maxTokens,
		Temperature:   temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: req.Stop,
	}, nil
}

func finishReason(native string) core.FinishReason {
	switch native {
	case "end_turn", "stop_sequence":
		return core.FinishStop
	case "max_tokens":
		return core.FinishLength
	case "tool_use":
		return core.FinishToolCalls
	case "refusal":
		return core.FinishContentFilter
	default:
		return core.FinishOther
	}
}

// parseResponse translates the Messages API response to the neutral
// shape, concatenating text content blocks.
func parseResponse(body []byte) (*core.ChatResponse, error) {
	var native messagesResponse
	if err := json.Unmarshal(body, &native); err != nil {
		return nil, core.NewProviderError(core.KindMalformed, "unparseable messages response", "", err)
	}

	var content strings.Builder
	for _, block := range native.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	if content.Len() == 0 {
		return nil, core.NewProviderError(core.KindMalformed, "no text content in response", "", nil)
	}

	metadata := map[string]interface{}{
		"id":          native.ID,
		"stop_reason": native.StopReason,
	}
	if native.StopSequence != "" {
		metadata["stop_sequence"] = native.StopSequence
	}

	usage := core.TokenUsage{
		PromptTokens:     native.Usage.InputTokens,
		CompletionTokens: native.Usage.OutputTokens,
		TotalTokens:      native.Usage.InputTokens + native.Usage.OutputTokens,
	}

	return &core.ChatResponse{
		Content:      content.String(),
		Model:        native.Model,
		Usage:        usage,
		FinishReason: finishReason(native.StopReason),
		Metadata:     metadata,
	}, nil
}

func parseError(body []byte) (message, code string) {
	var native errorResponse
	if err := json.Unmarshal(body, &native); err != nil || native.Error.Message == "" {
		s := string(body)
		if len(s) > 200 {
			s = s[:200] + "..."
		}
		return fmt.Sprintf("upstream error: %s", s), ""
	}
	return native.Error.Message, native.Error.Type
}
