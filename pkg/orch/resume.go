package orch

import (
	"context"
	"strings"

	"incubator/pkg/logx"
	"incubator/pkg/payment"
	"incubator/pkg/session"
)

// Resume re-enters a conversation from a payment redirect. The caller arrives
// from the checkout success or cancel page, outside the normal chat flow, so
// this path bypasses the classifier and the gate entirely: the record is
// forced into payment mode, the checkout id from the redirect is adopted, and
// the provider is asked for the real status. Safe to hit any number of times;
// it appends nothing to the transcript and repeated calls converge on the
// same state.
func (o *Orchestrator) Resume(ctx context.Context, conversationID, statusHint, checkoutID string) (string, error) {
	r, err := o.store.Load(conversationID)
	if err == session.ErrNotFound {
		r = session.NewRecord(conversationID)
	} else if err != nil {
		return "", logx.Wrap(err, "failed to load conversation for resume")
	}

	if r.Mode != session.ModePayment {
		// The redirect proves a checkout existed, so the conversation
		// belongs in payment mode regardless of what the stored record
		// says.
		if r.OriginMode == "" {
			r.OriginMode = deriveOriginMode(r)
		}
		r.Mode = session.ModePayment
	}
	if r.OriginMode == "" {
		r.OriginMode = deriveOriginMode(r)
	}

	if checkoutID != "" {
		if r.Payment == nil {
			r.Payment = &session.Payment{}
		}
		r.Payment.CheckoutID = checkoutID
	}

	reply := o.resumeReply(ctx, r, statusHint)

	if err := o.store.Save(r); err != nil {
		return "", logx.Wrap(err, "failed to persist resumed conversation")
	}
	o.logger.Info("🔁 Resumed %s (hint=%q)", conversationID, statusHint)
	return reply, nil
}

func (o *Orchestrator) resumeReply(ctx context.Context, r *session.Record, statusHint string) string {
	if strings.EqualFold(statusHint, "cancel") {
		r.AwaitingPayment = false
		return "No problem, the checkout was cancelled. Your formation details are saved; tell me when you'd like a new payment link."
	}

	if r.Payment == nil || r.Payment.CheckoutID == "" {
		return "Welcome back! I don't see a payment on file yet. Would you like to pick a plan?"
	}

	status, err := o.payments.QueryStatus(ctx, r.Payment.CheckoutID)
	if err != nil {
		o.logger.Warn("Resume status check failed for %s: %v", r.ConversationID, err)
		return "Welcome back! I couldn't confirm your payment status just yet; give me a moment and ask again."
	}

	switch status {
	case payment.StatusComplete:
		r.AwaitingPayment = false
		return o.postPaymentSummary(ctx, r)
	case payment.StatusFailed:
		r.AwaitingPayment = false
		r.Payment = nil
		return "Welcome back. That checkout expired, but your details are safe. I can create a fresh payment link whenever you're ready."
	default:
		r.AwaitingPayment = true
		return "Welcome back! Your payment hasn't settled yet. If you just paid, it can take a moment; ask me again shortly."
	}
}

// deriveOriginMode reconstructs which formation flow the conversation came
// from when the stored origin is missing, using flags that only one flow
// sets.
func deriveOriginMode(r *session.Record) session.Mode {
	switch {
	case r.Flag(session.FlagGovernanceSet):
		return session.ModeLLC
	case r.Flag(session.FlagAuthorizedSharesSet):
		return session.ModeCorp
	case r.Field(session.FieldEntitySubtype) != "":
		return session.ModeCorp
	default:
		return session.ModeIntake
	}
}
