package llm

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter provides approximate token counting for prompt budgeting.
// All supported models are close enough to GPT-4 encoding for budget purposes.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a token counter using the GPT-4 encoding.
func NewTokenCounter() (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in the given text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.codec == nil {
		// Fallback to character-based estimation (4 chars ≈ 1 token)
		return len(text) / 4
	}

	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// TrimToBudget drops messages from the front until the total token count fits
// the budget. The first message (system prompt) and the last message (current
// user turn) are always kept.
func (tc *TokenCounter) TrimToBudget(messages []CompletionMessage, budget int) []CompletionMessage {
	if len(messages) <= 2 {
		return messages
	}

	total := 0
	for i := range messages {
		total += tc.CountTokens(messages[i].Content)
	}

	trimmed := messages
	for total > budget && len(trimmed) > 2 {
		// Drop the oldest non-system message.
		dropped := trimmed[1]
		trimmed = append(trimmed[:1:1], trimmed[2:]...)
		total -= tc.CountTokens(dropped.Content)
	}
	return trimmed
}
