package vertex

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flexiai/flexiai/core"
)

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float32  `json:"temperature,omitempty"`
	TopP            float32  `json:"topP,omitempty"`
	TopK            int      `json:"topK,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type safetyRating struct {
	Category    string `json:"category"`
	Probability string `json:"probability"`
}

type generateResponse struct {
	Candidates []struct {
		Content       content        `json:"content"`
		FinishReason  string         `json:"finishReason"`
		SafetyRatings []safetyRating `json:"safetyRatings,omitempty"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason   string         `json:"blockReason,omitempty"`
		SafetyRatings []safetyRating `json:"safetyRatings,omitempty"`
	} `json:"promptFeedback,omitempty"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion,omitempty"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// buildRequest translates the neutral shape to generateContent. System
// messages move to systemInstruction; assistant turns become "model".
func buildRequest(req *core.ChatRequest) (*generateRequest, error) {
	var system []string
	contents := make([]content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case core.RoleSystem:
			system = append(system, m.Content)
		case core.RoleAssistant:
			contents = append(contents, content{Role: "model", Parts: []part{{Text: m.Content}}})
		case core.RoleUser, core.RoleTool:
			contents = append(contents, content{Role: "user", Parts: []part{{Text: m.Content}}})
		default:
			return nil, core.NewProviderError(core.KindMalformed,
				fmt.Sprintf("unmappable role %q", m.Role), "", nil)
		}
	}
	if len(contents) == 0 {
		return nil, core.NewProviderError(core.KindMalformed, "no non-system messages", "", nil)
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = core.DefaultTemperature
	}

	out := &generateRequest{
		Contents: contents,
		GenerationConfig: &generationConfig{
			Temperature:     temperature,
			TopP:            req.TopP,
			TopK:            req.TopK,
			MaxOutputTokens: req.MaxTokens,
			StopSequences:   req.Stop,
		},
	}
	if len(system) > 0 {
		out.SystemInstruction = &content{Parts: []part{{Text: strings.Join(system, "\n\n")}}}
	}
	return out, nil
}

func finishReason(native string) core.FinishReason {
	switch native {
	case "STOP":
		return core.FinishStop
	case "MAX_TOKENS":
		return core.FinishLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII":
		return core.FinishContentFilter
	default:
		return core.FinishOther
	}
}

// parseResponse translates generateContent output to the neutral shape.
// Prompt-level blocks and fully filtered candidates surface as
// SAFETY_BLOCK errors so the dispatcher skips the provider without
// charging its breaker.
func parseResponse(body []byte, model string) (*core.ChatResponse, error) {
	var native generateResponse
	if err := json.Unmarshal(body, &native); err != nil {
		return nil, core.NewProviderError(core.KindMalformed, "unparseable generateContent response", "", err)
	}

	if native.PromptFeedback != nil && native.PromptFeedback.BlockReason != "" {
		return nil, core.NewProviderError(core.KindSafetyBlock,
			fmt.Sprintf("prompt blocked: %s", native.PromptFeedback.BlockReason),
			native.PromptFeedback.BlockReason, nil)
	}
	if len(native.Candidates) == 0 {
		return nil, core.NewProviderError(core.KindMalformed, "response has no candidates", "", nil)
	}

	candidate := native.Candidates[0]

	var text strings.Builder
	for _, p := range candidate.Content.Parts {
		text.WriteString(p.Text)
	}
	if text.Len() == 0 && candidate.FinishReason == "SAFETY" {
		return nil, core.NewProviderError(core.KindSafetyBlock,
			"candidate blocked by safety filters", candidate.FinishReason, nil)
	}

	metadata := map[string]interface{}{
		"finish_reason": candidate.FinishReason,
	}
	if len(candidate.SafetyRatings) > 0 {
		metadata["safety_ratings"] = candidate.SafetyRatings
	}
	respModel := model
	if native.ModelVersion != "" {
		respModel = native.ModelVersion
		metadata["model_version"] = native.ModelVersion
	}

	usage := core.TokenUsage{
		PromptTokens:     native.UsageMetadata.PromptTokenCount,
		CompletionTokens: native.UsageMetadata.CandidatesTokenCount,
		TotalTokens:      native.UsageMetadata.TotalTokenCount,
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	return &core.ChatResponse{
		Content:      text.String(),
		Model:        respModel,
		Usage:        usage,
		FinishReason: finishReason(candidate.FinishReason),
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
	return native.Error.Message, native.Error.Status
}
