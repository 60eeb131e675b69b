package policy

import (
	"encoding/json"
	"strings"
)

// modelResponse is the JSON envelope the policies instruct the model to emit.
type modelResponse struct {
	Reply     string     `json:"reply"`
	Mutations []Mutation `json:"mutations"`
}

// ParseResponse extracts the user-facing reply and requested mutations from a
// raw model completion. Parsing is lenient: fenced or prefixed JSON is
// accepted, and anything unparseable degrades to a plain-text reply with no
// mutations, so a malformed completion can never mutate state.
func ParseResponse(raw string) (string, []Mutation) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", nil
	}

	candidate := extractJSONObject(text)
	if candidate == "" {
		return text, nil
	}

	var resp modelResponse
	if err := json.Unmarshal([]byte(candidate), &resp); err != nil {
		return text, nil
	}

	muts := make([]Mutation, 0, len(resp.Mutations))
	for _, m := range resp.Mutations {
		if m.Name == "" {
			continue
		}
		muts = append(muts, m)
	}
	if len(muts) == 0 {
		muts = nil
	}

	// An envelope that carries neither a reply nor mutations says nothing;
	// fall back to the raw text. An empty reply alongside parsed mutations is
	// a valid envelope, the mutation outcomes speak for the turn.
	if resp.Reply == "" && muts == nil {
		return text, nil
	}
	return resp.Reply, muts
}

// extractJSONObject returns the outermost {...} span in text, or "".
func extractJSONObject(text string) string {
	// Strip a markdown code fence if the whole response is fenced.
	if strings.HasPrefix(text, "```") {
		if end := strings.LastIndex(text, "```"); end > 3 {
			inner := text[strings.Index(text, "\n")+1 : end]
			text = strings.TrimSpace(inner)
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// IsConfirmation reports whether a raw user message is exactly the
// confirmation token, modulo whitespace and letter case.
func IsConfirmation(message string) bool {
	return strings.EqualFold(strings.TrimSpace(message), ConfirmationToken)
}
