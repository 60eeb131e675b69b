package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

// OpenAIClient wraps the official OpenAI Go client to implement Client.
// It uses the Responses API.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient creates a new OpenAI-backed completion client.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (o *OpenAIClient) ModelName() string {
	return o.model
}

// Complete implements the Client interface.
func (o *OpenAIClient) Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
	// Combine messages into a single input string for the responses API.
	var inputText strings.Builder
	for i := range in.Messages {
		msg := &in.Messages[i]
		switch msg.Role {
		case RoleSystem:
			fmt.Fprintf(&inputText, "System: %s\n\n", msg.Content)
		case RoleAssistant:
			fmt.Fprintf(&inputText, "Assistant: %s\n\n", msg.Content)
		case RoleUser:
			inputText.WriteString(msg.Content)
			inputText.WriteString("\n\n")
		}
	}

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(int64(in.MaxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(strings.TrimSpace(inputText.String()))},
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("openai completion failed: %w", err)
	}

	content := resp.OutputText()
	if content == "" {
		return CompletionResponse{}, fmt.Errorf("received empty response from OpenAI API")
	}

	return CompletionResponse{
		Content:    content,
		StopReason: string(resp.Status),
	}, nil
}
