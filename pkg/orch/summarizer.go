package orch

import (
	"context"
	"strings"
	"sync"
	"time"

	"incubator/pkg/llm"
	"incubator/pkg/logx"
	"incubator/pkg/metrics"
	"incubator/pkg/policy"
	"incubator/pkg/session"
)

// summaryTimeout bounds each background summary generation.
const summaryTimeout = 45 * time.Second

// Summarizer produces progress summaries after each turn, off the turn's
// critical path. It reads a snapshot and writes nothing back; a lost summary
// costs nothing. At most one summary per conversation is in flight, and a
// trigger that lands while one is running is skipped rather than queued since
// the next turn will trigger again with fresher state.
type Summarizer struct {
	client llm.Client
	logger *logx.Logger

	mu       sync.Mutex
	inflight map[string]bool
}

func NewSummarizer(client llm.Client) *Summarizer {
	return &Summarizer{
		client:   client,
		logger:   logx.NewLogger("summarizer"),
		inflight: make(map[string]bool),
	}
}

// Trigger starts a background summary for the conversation snapshot. Safe to
// call from any goroutine; returns immediately.
func (s *Summarizer) Trigger(conversationID string, snapshot *session.Record) {
	s.mu.Lock()
	if s.inflight[conversationID] {
		s.mu.Unlock()
		metrics.SummariesTotal.WithLabelValues("skipped").Inc()
		s.logger.Debug("Summary already in flight for %s, skipping", conversationID)
		return
	}
	s.inflight[conversationID] = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.inflight, conversationID)
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
		defer cancel()

		resp, err := s.client.Complete(ctx, llmSummaryRequest(
			policy.SummaryPolicy().Instructions, renderSnapshot(snapshot)))
		if err != nil {
			metrics.SummariesTotal.WithLabelValues("error").Inc()
			s.logger.Warn("Summary failed for %s: %v", conversationID, err)
			return
		}
		metrics.SummariesTotal.WithLabelValues("ok").Inc()
		s.logger.Debug("📋 Summary for %s: %s", conversationID, firstLine(resp.Content))
	}()
}

// llmSummaryRequest packages summary instructions plus a state rendering into
// a one-shot completion request.
func llmSummaryRequest(instructions, state string) llm.CompletionRequest {
	return llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			{Role: llm.RoleSystem, Content: instructions},
			{Role: llm.RoleUser, Content: state},
		},
		MaxTokens: 500,
	}
}

// renderSnapshot flattens the parts of a record a summary draws on.
func renderSnapshot(r *session.Record) string {
	var b strings.Builder
	b.WriteString("Conversation state:\n")
	b.WriteString("- mode: " + string(r.Mode) + "\n")
	for k, v := range r.CapturedFields {
		b.WriteString("- " + k + ": " + v + "\n")
	}
	b.WriteString("\nRecent exchanges:\n")
	turns := r.Transcript
	if len(turns) > 10 {
		turns = turns[len(turns)-10:]
	}
	for i := range turns {
		b.WriteString(turns[i].Role + ": " + turns[i].Content + "\n")
	}
	return b.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
