package core

import (
	"errors"
	"testing"
)

func userMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func TestChatRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     ChatRequest
		wantErr bool
	}{
		{
			name: "minimal valid",
			req:  ChatRequest{Messages: []Message{userMessage("hi")}},
		},
		{
			name: "system then user",
			req: ChatRequest{Messages: []Message{
				{Role: RoleSystem, Content: "be terse"},
				userMessage("hi"),
			}},
		},
		{
			name: "full conversation",
			req: ChatRequest{
				Messages: []Message{
					userMessage("hi"),
					{Role: RoleAssistant, Content: "hello"},
					userMessage("continue"),
				},
				Temperature: 1.5,
				MaxTokens:   256,
				TopP:        0.9,
				TopK:        40,
				Stop:        []string{"END"},
			},
		},
		{
			name:    "empty messages",
			req:     ChatRequest{},
			wantErr: true,
		},
		{
			name: "first non-system is assistant",
			req: ChatRequest{Messages: []Message{
				{Role: RoleSystem, Content: "s"},
				{Role: RoleAssistant, Content: "a"},
			}},
			wantErr: true,
		},
		{
			name: "unknown role",
			req: ChatRequest{Messages: []Message{
				{Role: "narrator", Content: "x"},
			}},
			wantErr: true,
		},
		{
			name: "temperature too high",
			req: ChatRequest{
				Messages:    []Message{userMessage("hi")},
				Temperature: 2.5,
			},
			wantErr: true,
		},
		{
			name: "negative max tokens",
			req: ChatRequest{
				Messages:  []Message{userMessage("hi")},
				MaxTokens: -1,
			},
			wantErr: true,
		},
		{
			name: "top_p out of range",
			req: ChatRequest{
				Messages: []Message{userMessage("hi")},
				TopP:     1.2,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected validation error, got nil")
				}
				if !errors.Is(err, ErrInvalidRequest) {
					t.Errorf("expected ErrInvalidRequest, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestNilRequestValidate(t *testing.T) {
	var req *ChatRequest
	if err := req.Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for nil request, got %v", err)
	}
}
