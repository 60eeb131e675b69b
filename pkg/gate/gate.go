// Package gate enforces transition rules between conversation modes: the
// entity-type switch budget, the formation completeness checklist, and the
// one-shot payment confirmation token.
package gate

import (
	"errors"

	"incubator/pkg/logx"
	"incubator/pkg/metrics"
	"incubator/pkg/session"
)

// Denial reasons.
const (
	ReasonSwitchLimit  = "switch_limit_exceeded"
	ReasonBadTarget    = "invalid_switch_target"
	ReasonIncomplete   = "formation_incomplete"
	ReasonNotConfirmed = "confirmation_required"
	ReasonRestart      = "restart_requires_new_conversation"
)

// ErrIntegrity is returned when stored state violates a gate invariant, e.g. a
// switch count above the configured limit. The turn fails rather than guess.
var ErrIntegrity = errors.New("conversation state integrity violation")

// Decision is the outcome of a gate request. A denied decision never mutates
// mode, switch count, captured fields, or completion flags.
type Decision struct {
	Allowed bool
	Reason  string   // set when denied
	Missing []string // unmet checklist flags, when relevant
}

// Gate validates and applies mode transitions. All mutations go through the
// store so a failed save leaves durable state unchanged.
type Gate struct {
	store  *session.Store
	limit  int
	logger *logx.Logger
}

func New(store *session.Store, switchLimit int) *Gate {
	return &Gate{
		store:  store,
		limit:  switchLimit,
		logger: logx.NewLogger("gate"),
	}
}

// RequestSwitch applies an entity-type switch to target, subject to the switch
// budget. The first selection out of intake is free. Switching between
// formation modes consumes budget and purges all structural fields and flags;
// base identity fields always survive. A request for the current mode is an
// allowed no-op.
func (g *Gate) RequestSwitch(r *session.Record, target session.Mode, subtype string) (Decision, error) {
	if !target.IsFormation() {
		g.logger.Warn("Switch to non-formation target %q refused for %s", target, r.ConversationID)
		return g.deny(r.Mode, ReasonBadTarget, nil), nil
	}

	if r.SwitchCount > g.limit {
		return Decision{}, logx.Errorf("%w: conversation %s has switch count %d above limit %d",
			ErrIntegrity, r.ConversationID, r.SwitchCount, g.limit)
	}

	if r.Mode == target {
		return Decision{Allowed: true}, nil
	}

	// Returning from payment to the formation mode it was entered from is a
	// resume, not an entity-type switch.
	resuming := r.Mode == session.ModePayment && target == r.OriginMode

	// Only formation-to-formation changes consume budget.
	counted := !resuming && r.Mode != session.ModeIntake
	if counted && r.SwitchCount >= g.limit {
		g.logger.Info("🚫 Switch %s -> %s denied for %s: budget exhausted (%d/%d)",
			r.Mode, target, r.ConversationID, r.SwitchCount, g.limit)
		return g.deny(r.Mode, ReasonSwitchLimit, nil), nil
	}

	from := r.Mode
	if counted {
		r.SwitchCount++
		r.PurgeStructural()
	}
	if resuming {
		r.OriginMode = ""
	}
	r.Mode = target

	if target == session.ModeCorp && subtype != "" {
		r.SetField(session.FieldEntitySubtype, subtype)
	}

	// Any outstanding checkout was quoted for the old entity type.
	if r.AwaitingPayment || r.Payment != nil {
		r.AwaitingPayment = false
		r.Payment = nil
	}

	if err := g.store.Save(r); err != nil {
		return Decision{}, logx.Wrap(err, "failed to persist switch")
	}

	metrics.SwitchesTotal.WithLabelValues(string(from), string(target)).Inc()
	g.logger.Info("🔀 Switched %s: %s -> %s (count %d/%d)", r.ConversationID, from, target, r.SwitchCount, g.limit)
	return Decision{Allowed: true}, nil
}

// RequestPayment applies the hard gate into payment mode. The confirmation
// token is consumed on read, whatever the outcome: a denied attempt still
// burns it, so entering payment always costs a fresh exact confirmation.
func (g *Gate) RequestPayment(r *session.Record) (Decision, error) {
	if r.Mode == session.ModePayment {
		return Decision{Allowed: true}, nil
	}

	confirmed := r.ReadyToPay
	r.ReadyToPay = false

	cl := Check(r.Mode, r.CompletionFlags)

	if !confirmed {
		if err := g.store.Save(r); err != nil {
			return Decision{}, logx.Wrap(err, "failed to persist confirmation consumption")
		}
		return g.deny(r.Mode, ReasonNotConfirmed, cl.Missing), nil
	}

	if !cl.Complete {
		if err := g.store.Save(r); err != nil {
			return Decision{}, logx.Wrap(err, "failed to persist confirmation consumption")
		}
		g.logger.Info("🚫 Payment gate denied for %s: missing %v", r.ConversationID, cl.Missing)
		return g.deny(r.Mode, ReasonIncomplete, cl.Missing), nil
	}

	r.OriginMode = r.Mode
	r.Mode = session.ModePayment
	if err := g.store.Save(r); err != nil {
		return Decision{}, logx.Wrap(err, "failed to persist payment transition")
	}

	metrics.PaymentGatePassesTotal.Inc()
	g.logger.Info("💳 Payment gate passed for %s (origin %s)", r.ConversationID, r.OriginMode)
	return Decision{Allowed: true}, nil
}

// RequestRestart always denies: a conversation cannot be rewound in place.
// The caller should direct the user to begin a new conversation.
func (g *Gate) RequestRestart(r *session.Record) Decision {
	g.logger.Info("🔁 Restart request denied for %s", r.ConversationID)
	return g.deny(r.Mode, ReasonRestart, nil)
}

func (g *Gate) deny(mode session.Mode, reason string, missing []string) Decision {
	metrics.GateDenialsTotal.WithLabelValues(string(mode), reason).Inc()
	return Decision{Allowed: false, Reason: reason, Missing: missing}
}
