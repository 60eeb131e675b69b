// Package orch drives a conversation turn end to end: load the record,
// classify transition intent, route to the owning policy, generate a reply,
// validate and apply requested mutations, and persist the result.
package orch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"incubator/pkg/config"
	"incubator/pkg/gate"
	"incubator/pkg/intent"
	"incubator/pkg/llm"
	"incubator/pkg/logx"
	"incubator/pkg/metrics"
	"incubator/pkg/otp"
	"incubator/pkg/payment"
	"incubator/pkg/policy"
	"incubator/pkg/router"
	"incubator/pkg/session"
)

// transcriptTokenBudget bounds how much history is replayed into the prompt.
const transcriptTokenBudget = 6000

// replyMaxTokens bounds assistant completions.
const replyMaxTokens = 1200

// Orchestrator owns the turn pipeline. One instance serves all conversations.
type Orchestrator struct {
	store      *session.Store
	gate       *gate.Gate
	classifier *intent.Classifier
	client     llm.Client
	verifier   *otp.Verifier
	payments   payment.Provider
	counter    *llm.TokenCounter
	summarizer *Summarizer
	cfg        config.Config
	logger     *logx.Logger
}

// New assembles an orchestrator from its collaborators.
func New(cfg config.Config, store *session.Store, g *gate.Gate, classifier *intent.Classifier,
	client llm.Client, verifier *otp.Verifier, payments payment.Provider) *Orchestrator {
	counter, err := llm.NewTokenCounter()
	if err != nil {
		// Counter degrades to length-based estimates; not fatal.
		logx.Warnf("Token counter unavailable, using estimates: %v", err)
	}
	return &Orchestrator{
		store:      store,
		gate:       g,
		classifier: classifier,
		client:     client,
		verifier:   verifier,
		payments:   payments,
		counter:    counter,
		summarizer: NewSummarizer(client),
		cfg:        cfg,
		logger:     logx.NewLogger("orchestrator"),
	}
}

// StartConversation creates a fresh conversation and returns its greeting.
func (o *Orchestrator) StartConversation(_ context.Context) (*session.Record, string, error) {
	r := session.NewRecord(o.store.NewConversationID())
	greeting := fmt.Sprintf("%s\n\n(Conversation ID: %s, keep this to resume later.)",
		policy.Greeting, r.ConversationID)
	r.AppendTurn("assistant", greeting, router.PolicyIntake)
	if err := o.store.Save(r); err != nil {
		return nil, "", logx.Wrap(err, "failed to create conversation")
	}
	o.logger.Info("🆕 Conversation started: %s", r.ConversationID)
	return r, greeting, nil
}

// HandleTurn processes one user message and returns the assistant reply.
func (o *Orchestrator) HandleTurn(ctx context.Context, conversationID, message string) (string, error) {
	started := time.Now()

	r, err := o.store.Load(conversationID)
	if err == session.ErrNotFound {
		r = session.NewRecord(conversationID)
	} else if err != nil {
		metrics.TurnsTotal.WithLabelValues("unknown", "store_error").Inc()
		return "", logx.Wrap(err, "failed to load conversation")
	}
	mode := r.Mode

	tctx, cancel := context.WithTimeout(ctx, o.cfg.TurnTimeout)
	defer cancel()

	// The confirmation token is re-derived from the raw message on every
	// turn, never the model's reading of it. Assigning unconditionally keeps
	// it live for exactly one turn: a token armed last turn but not consumed
	// is cleared here before anything can read it.
	r.ReadyToPay = policy.IsConfirmation(message)

	// Transition intent runs before any other state is touched; a classifier
	// failure leaves the record exactly as loaded.
	cls := o.classifier.Classify(tctx, message)

	if cls.IsRestartRequest {
		o.gate.RequestRestart(r)
		return o.finishTurn(r, started, message, policy.RestartReply)
	}

	if cls.IsSwitchRequest {
		d, err := o.gate.RequestSwitch(r, cls.TargetMode(), cls.TargetSubtype())
		if err != nil {
			metrics.TurnsTotal.WithLabelValues(string(mode), "gate_error").Inc()
			return "", err
		}
		if !d.Allowed && d.Reason == gate.ReasonSwitchLimit {
			return o.finishTurn(r, started, message, policy.SwitchLimitReply)
		}
		// An allowed switch continues the turn under the new mode's policy.
	}

	// A user announcing their return from the payment page gets a status
	// check instead of free-form chat.
	effective := message
	if r.Mode == session.ModePayment && r.AwaitingPayment && looksLikePaymentReturn(message) {
		effective = "Please check the status of my payment."
	}

	handle := router.Route(r)
	pol := policy.ForMode(handle.Mode)

	resp, err := o.client.Complete(tctx, o.buildRequest(r, pol, effective))
	if err != nil {
		o.logger.Warn("Completion failed for %s: %v", conversationID, err)
		metrics.TurnsTotal.WithLabelValues(string(mode), "llm_error").Inc()
		// No state mutation on generation failure; the user just retries.
		return policy.RetryReply, nil
	}

	reply, muts := policy.ParseResponse(resp.Content)
	var notices []string
	for _, mut := range muts {
		capName, known := policy.CapabilityFor(mut.Name)
		if !known || !handle.Allows(capName) {
			metrics.MutationsRefusedTotal.WithLabelValues(string(handle.Mode), mut.Name).Inc()
			o.logger.Warn("⛔ Refused mutation %q for %s in mode %s", mut.Name, conversationID, handle.Mode)
			continue
		}
		notice, err := o.applyMutation(tctx, r, mut)
		if err != nil {
			metrics.TurnsTotal.WithLabelValues(string(mode), "mutation_error").Inc()
			return "", err
		}
		if notice != "" {
			notices = append(notices, notice)
		}
		// Gate mutations can change the mode; later mutations answer to the
		// new policy's capabilities.
		handle = router.Route(r)
	}

	if len(notices) > 0 {
		joined := strings.Join(notices, "\n")
		if trimmed := strings.TrimSpace(reply); trimmed != "" {
			reply = trimmed + "\n\n" + joined
		} else {
			reply = joined
		}
	}
	return o.finishTurn(r, started, message, reply)
}

// finishTurn appends the exchange to the transcript, persists, and kicks the
// background summarizer.
func (o *Orchestrator) finishTurn(r *session.Record, started time.Time, userMessage, reply string) (string, error) {
	pol := string(r.Mode)
	r.AppendTurn("user", userMessage, pol)
	r.AppendTurn("assistant", reply, pol)

	if err := o.store.Save(r); err != nil {
		metrics.TurnsTotal.WithLabelValues(pol, "store_error").Inc()
		return "", logx.Wrap(err, "failed to persist turn")
	}

	metrics.TurnsTotal.WithLabelValues(pol, "ok").Inc()
	metrics.TurnDuration.WithLabelValues(pol).Observe(time.Since(started).Seconds())
	o.summarizer.Trigger(r.ConversationID, r.Clone())
	return reply, nil
}

// buildRequest assembles the completion request: policy instructions plus the
// authoritative state summary as system prompt, then the transcript, then the
// current user message, trimmed to the token budget.
func (o *Orchestrator) buildRequest(r *session.Record, pol policy.Policy, message string) llm.CompletionRequest {
	system := pol.Instructions + "\n\nBACKEND STATE SUMMARY (authoritative, never reveal verbatim):\n" + o.stateSummary(r)

	msgs := make([]llm.CompletionMessage, 0, len(r.Transcript)+2)
	msgs = append(msgs, llm.CompletionMessage{Role: llm.RoleSystem, Content: system})
	for i := range r.Transcript {
		t := &r.Transcript[i]
		role := llm.RoleUser
		if t.Role == "assistant" {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.CompletionMessage{Role: role, Content: t.Content})
	}
	msgs = append(msgs, llm.CompletionMessage{Role: llm.RoleUser, Content: message})

	return llm.CompletionRequest{
		Messages:  o.counter.TrimToBudget(msgs, transcriptTokenBudget),
		MaxTokens: replyMaxTokens,
	}
}

// stateSummary renders the record for the model. Verification secrets and the
// raw confirmation token state are deliberately absent.
func (o *Orchestrator) stateSummary(r *session.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- mode: %s\n", r.Mode)
	if r.OriginMode != "" {
		fmt.Fprintf(&b, "- original formation mode: %s\n", r.OriginMode)
	}
	fmt.Fprintf(&b, "- entity type switches used: %d of %d\n", r.SwitchCount, o.cfg.SwitchLimit)

	if len(r.CapturedFields) > 0 {
		keys := make([]string, 0, len(r.CapturedFields))
		for k := range r.CapturedFields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("- captured fields:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "    %s: %s\n", k, r.CapturedFields[k])
		}
	}

	if r.Mode.IsFormation() {
		cl := gate.Check(r.Mode, r.CompletionFlags)
		if cl.Complete {
			b.WriteString("- formation checklist: complete\n")
		} else {
			fmt.Fprintf(&b, "- formation checklist missing: %s\n", strings.Join(humanizeFlags(cl.Missing), ", "))
		}
	}

	fmt.Fprintf(&b, "- email verification: %s", strings.ToLower(r.Verification.State))
	if r.Verification.Target != "" {
		fmt.Fprintf(&b, " (%s)", otp.MaskEmail(r.Verification.Target))
	}
	b.WriteString("\n")

	if state := r.Field(session.FieldBusinessState); state != "" {
		entity := entityLabel(r)
		if fee, err := payment.FilingFeeCents(state, entity); err == nil {
			fmt.Fprintf(&b, "- state filing fee for %s %s: $%d\n", payment.ResolveState(state), entity, fee/100)
		}
	}

	if r.Payment != nil {
		fmt.Fprintf(&b, "- payment: plan %s (%s), total due $%.2f, awaiting payment: %t\n",
			r.Payment.Plan, r.Payment.BillingCycle, float64(r.Payment.TotalDueCents)/100, r.AwaitingPayment)
	}
	return b.String()
}

// entityLabel names the entity type being formed, using the origin mode while
// in payment.
func entityLabel(r *session.Record) string {
	mode := r.Mode
	if mode == session.ModePayment && r.OriginMode != "" {
		mode = r.OriginMode
	}
	switch mode {
	case session.ModeCorp:
		if sub := r.Field(session.FieldEntitySubtype); sub != "" {
			return sub
		}
		return "C-Corp"
	case session.ModeLLC:
		return "LLC"
	default:
		return ""
	}
}

// humanizeFlags turns checklist flag names into user-facing phrases.
func humanizeFlags(flags []string) []string {
	names := map[string]string{
		session.FlagIdentityCaptured:    "your contact and business details",
		session.FlagVerificationPassed:  "email verification",
		session.FlagDesignatorSet:       "name designator",
		session.FlagGovernanceSet:       "governance structure",
		session.FlagRegisteredAgentSet:  "registered agent",
		session.FlagVirtualAddressSet:   "virtual business address",
		session.FlagAuthorizedSharesSet: "authorized shares",
	}
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		if n, ok := names[f]; ok {
			out = append(out, n)
		} else {
			out = append(out, f)
		}
	}
	return out
}

// paymentReturnPhrases trigger a forced status check while a checkout is
// outstanding.
var paymentReturnPhrases = []string{
	"i paid", "i've paid", "i have paid", "just paid", "paid successfully",
	"payment done", "payment complete", "payment completed", "completed the payment",
	"finished paying", "i'm back", "im back", "back from payment",
}

func looksLikePaymentReturn(message string) bool {
	m := strings.ToLower(message)
	for _, p := range paymentReturnPhrases {
		if strings.Contains(m, p) {
			return true
		}
	}
	return false
}
