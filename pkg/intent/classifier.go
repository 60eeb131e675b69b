// Package intent detects restart and entity-type-switch requests in user
// messages. Detection is deliberately conservative: any doubt, any model
// failure, any malformed output classifies as "no transition intent" so a
// misfire can never move a conversation.
package intent

import (
	"context"
	"encoding/json"
	"strings"

	"incubator/pkg/llm"
	"incubator/pkg/logx"
	"incubator/pkg/session"
)

// Classification is the classifier's verdict on one user message.
type Classification struct {
	IsRestartRequest bool   `json:"is_restart_request"`
	IsSwitchRequest  bool   `json:"is_switch_request"`
	SwitchTarget     string `json:"switch_target"` // LLC | C-CORP | S-CORP | ""
}

// TargetMode maps the classifier's switch target onto a conversation mode.
// Returns "" when there is no usable target.
func (c Classification) TargetMode() session.Mode {
	switch strings.ToUpper(strings.TrimSpace(c.SwitchTarget)) {
	case "LLC":
		return session.ModeLLC
	case "C-CORP", "CCORP", "S-CORP", "SCORP", "CORP", "CORPORATION":
		return session.ModeCorp
	default:
		return ""
	}
}

// TargetSubtype returns the corp subtype label, "" for LLC or unknown targets.
func (c Classification) TargetSubtype() string {
	switch strings.ToUpper(strings.TrimSpace(c.SwitchTarget)) {
	case "C-CORP", "CCORP":
		return "C-Corp"
	case "S-CORP", "SCORP":
		return "S-Corp"
	default:
		return ""
	}
}

const classifierPrompt = `You are a strict intent classifier for a business
incorporation assistant. Given ONE user message, decide two things:

1. is_restart_request: the user explicitly asks to start the whole
   conversation or process over from scratch ("start over", "restart",
   "begin again from the beginning", "scrap everything and restart").

2. is_switch_request: the user explicitly asks to change their business
   entity type ("actually make it an LLC", "switch to a C-Corp", "I'd rather
   form an S-Corp instead").

Be conservative. These are NOT switch requests:
- questions comparing entity types ("what's the difference between LLC and C-Corp?")
- mentioning an entity type in passing
- hypotheticals ("what would change if I were an S-Corp?")
- asking about fees or taxes for another entity type

When in doubt, answer false.

Respond with only this JSON object:
{"is_restart_request": false, "is_switch_request": false, "switch_target": ""}

switch_target must be "LLC", "C-CORP", or "S-CORP" when is_switch_request is
true, otherwise "".`

// Classifier wraps an LLM client behind the conservative classification
// contract. It never returns an error; failures classify as no intent.
type Classifier struct {
	client llm.Client
	logger *logx.Logger
}

func New(client llm.Client) *Classifier {
	return &Classifier{
		client: client,
		logger: logx.NewLogger("intent"),
	}
}

// Classify inspects one user message. Empty messages, model errors, timeouts,
// and malformed outputs all yield the zero Classification.
func (c *Classifier) Classify(ctx context.Context, message string) Classification {
	message = strings.TrimSpace(message)
	if message == "" {
		return Classification{}
	}

	resp, err := c.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			{Role: llm.RoleSystem, Content: classifierPrompt},
			{Role: llm.RoleUser, Content: message},
		},
		MaxTokens: 200,
	})
	if err != nil {
		c.logger.Warn("Classification failed, treating as no intent: %v", err)
		return Classification{}
	}

	var out Classification
	text := strings.TrimSpace(resp.Content)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		c.logger.Warn("Classifier returned no JSON, treating as no intent")
		return Classification{}
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		c.logger.Warn("Classifier returned malformed JSON, treating as no intent: %v", err)
		return Classification{}
	}

	// A switch claim without a usable target is noise.
	if out.IsSwitchRequest && out.TargetMode() == "" {
		c.logger.Debug("Switch claim without target discarded: %q", out.SwitchTarget)
		out.IsSwitchRequest = false
		out.SwitchTarget = ""
	}
	return out
}
