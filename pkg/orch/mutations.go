package orch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"incubator/pkg/gate"
	"incubator/pkg/intent"
	"incubator/pkg/metrics"
	"incubator/pkg/otp"
	"incubator/pkg/payment"
	"incubator/pkg/policy"
	"incubator/pkg/session"
)

// structuralFields maps mode-scoped structural field names to the completion
// flag they satisfy. Fields with an empty flag are captured but gate nothing.
var structuralFields = map[session.Mode]map[string]string{
	session.ModeLLC: {
		session.FieldDesignator:      session.FlagDesignatorSet,
		session.FieldGovernance:      session.FlagGovernanceSet,
		session.FieldRegisteredAgent: session.FlagRegisteredAgentSet,
		session.FieldVirtualAddress:  session.FlagVirtualAddressSet,
	},
	session.ModeCorp: {
		session.FieldDesignator:       session.FlagDesignatorSet,
		session.FieldAuthorizedShares: session.FlagAuthorizedSharesSet,
		session.FieldParValue:         "",
		session.FieldRegisteredAgent:  session.FlagRegisteredAgentSet,
		session.FieldVirtualAddress:   session.FlagVirtualAddressSet,
	},
}

// applyMutation executes one model-requested mutation against the record. The
// returned notice, if any, is surfaced to the user below the reply; mutation
// outcomes the model could not have known at generation time travel this way.
// A non-nil error is reserved for persistence failures.
func (o *Orchestrator) applyMutation(ctx context.Context, r *session.Record, mut policy.Mutation) (string, error) {
	switch mut.Name {
	case policy.MutSetIdentityField:
		return o.setIdentityField(r, mut.Args), nil
	case policy.MutSetStructuralField:
		return o.setStructuralField(r, mut.Args), nil
	case policy.MutSendVerificationCode:
		return o.sendVerificationCode(ctx, r, mut.Args), nil
	case policy.MutVerifyCode:
		return o.verifyCode(r, mut.Args), nil
	case policy.MutChangeVerifiedEmail:
		return o.changeVerifiedEmail(r, mut.Args), nil
	case policy.MutRequestSwitch:
		return o.applySwitch(r, mut.Args)
	case policy.MutRequestPayment:
		return o.applyPaymentRequest(r)
	case policy.MutCreateCheckout:
		return o.createCheckout(ctx, r, mut.Args), nil
	case policy.MutCheckPaymentStatus:
		return o.checkPaymentStatus(ctx, r), nil
	default:
		// CapabilityFor filtered unknown names already.
		return "", nil
	}
}

func (o *Orchestrator) setIdentityField(r *session.Record, args map[string]string) string {
	name, value := strings.TrimSpace(args["name"]), strings.TrimSpace(args["value"])
	if !session.IsBaseField(name) || value == "" {
		o.logger.Debug("Ignoring identity field %q", name)
		return ""
	}
	r.SetField(name, value)
	o.logger.Info("📝 Captured %s for %s", name, r.ConversationID)
	return ""
}

func (o *Orchestrator) setStructuralField(r *session.Record, args map[string]string) string {
	name, value := strings.TrimSpace(args["name"]), strings.TrimSpace(args["value"])
	allowed, ok := structuralFields[r.Mode]
	if !ok {
		return ""
	}
	flag, ok := allowed[name]
	if !ok || value == "" {
		o.logger.Debug("Ignoring structural field %q in mode %s", name, r.Mode)
		return ""
	}
	r.SetField(name, value)
	if flag != "" {
		r.SetFlag(flag, true)
	}
	o.logger.Info("📝 Captured %s for %s", name, r.ConversationID)
	return ""
}

func (o *Orchestrator) sendVerificationCode(ctx context.Context, r *session.Record, args map[string]string) string {
	target := strings.TrimSpace(args["email"])
	if target == "" {
		target = r.Field(session.FieldUserEmail)
	}
	if target == "" {
		return "I need your email address before I can send a verification code."
	}

	err := o.verifier.Send(ctx, &r.Verification, target)
	var cooldown *otp.CooldownError
	switch {
	case err == nil:
		return fmt.Sprintf("📧 A 6-digit verification code is on its way to %s. It expires in %d minutes.",
			otp.MaskEmail(target), int(otp.CodeTTL.Minutes()))
	case errors.As(err, &cooldown):
		return fmt.Sprintf("⏳ Please wait about %d minute(s) before requesting another code.",
			int(cooldown.Wait.Round(time.Minute).Minutes())+1)
	case errors.Is(err, otp.ErrAlreadyVerified):
		return "Your email is already verified, no new code is needed."
	case errors.Is(err, otp.ErrTargetLocked):
		return "Your verified email can't be changed this way. Tell me you'd like to change your email address and I'll walk you through re-verifying."
	default:
		o.logger.Warn("Verification send failed for %s: %v", r.ConversationID, err)
		return "I couldn't deliver the verification code just now. Let's try again in a moment."
	}
}

func (o *Orchestrator) verifyCode(r *session.Record, args map[string]string) string {
	err := o.verifier.Verify(&r.Verification, strings.TrimSpace(args["code"]))
	switch {
	case err == nil:
		r.SetFlag(session.FlagVerificationPassed, true)
		o.logger.Info("✅ Email verified for %s", r.ConversationID)
		return "✅ Your email is verified."
	case errors.Is(err, otp.ErrAlreadyVerified):
		return "Your email is already verified."
	case errors.Is(err, otp.ErrExpired):
		return "That code has expired. Ask me to send a fresh one."
	case errors.Is(err, otp.ErrTooManyAttempts):
		return "Too many incorrect attempts, so that code is no longer valid. Ask me to send a new one."
	case errors.Is(err, otp.ErrMalformedCode):
		return "A verification code is exactly 6 digits. Please check and try again."
	case errors.Is(err, otp.ErrNoCodePending):
		return "There's no active code to check. Ask me to send one first."
	default:
		return "That code doesn't match. Please double-check and try again."
	}
}

func (o *Orchestrator) changeVerifiedEmail(r *session.Record, args map[string]string) string {
	email := strings.TrimSpace(args["email"])
	if email == "" {
		return "What email address should I switch your verification to?"
	}
	o.verifier.Reset(&r.Verification, email)
	r.SetFlag(session.FlagVerificationPassed, false)
	r.SetField(session.FieldUserEmail, email)
	o.logger.Info("🔄 Verification reset to new target for %s", r.ConversationID)
	return fmt.Sprintf("I've updated your email to %s. Ask me to send a verification code when you're ready.",
		otp.MaskEmail(email))
}

func (o *Orchestrator) applySwitch(r *session.Record, args map[string]string) (string, error) {
	cls := intent.Classification{SwitchTarget: args["target"]}
	target := cls.TargetMode()
	subtype := cls.TargetSubtype()
	if s := strings.TrimSpace(args["subtype"]); s != "" && subtype == "" {
		subtype = s
	}

	d, err := o.gate.RequestSwitch(r, target, subtype)
	if err != nil {
		return "", err
	}
	if !d.Allowed {
		if d.Reason == gate.ReasonSwitchLimit {
			return policy.SwitchLimitReply, nil
		}
		o.logger.Debug("Switch to %q refused: %s", args["target"], d.Reason)
		return "", nil
	}
	return "", nil
}

func (o *Orchestrator) applyPaymentRequest(r *session.Record) (string, error) {
	d, err := o.gate.RequestPayment(r)
	if err != nil {
		return "", err
	}
	if d.Allowed {
		return "", nil
	}
	switch d.Reason {
	case gate.ReasonNotConfirmed:
		return policy.NotConfirmedReply, nil
	case gate.ReasonIncomplete:
		return fmt.Sprintf("Before payment we still need: %s.",
			strings.Join(humanizeFlags(d.Missing), ", ")), nil
	default:
		return "", nil
	}
}

func (o *Orchestrator) createCheckout(ctx context.Context, r *session.Record, args map[string]string) string {
	if r.Mode != session.ModePayment {
		return ""
	}
	planName := strings.TrimSpace(args["plan"])
	cycle := strings.TrimSpace(args["billingCycle"])
	state := r.Field(session.FieldBusinessState)
	entity := entityLabel(r)

	q, err := payment.BuildQuote(planName, cycle, state, entity)
	if err != nil {
		metrics.CheckoutsTotal.WithLabelValues("bad_quote").Inc()
		o.logger.Warn("Quote failed for %s: %v", r.ConversationID, err)
		return "I couldn't price that combination. Which plan would you like: Classic, Premium, or Elite?"
	}

	base := strings.TrimRight(o.cfg.SiteURL, "/")
	successURL := fmt.Sprintf("%s/resume?conv_id=%s&status=success&checkout_session={CHECKOUT_SESSION_ID}",
		base, r.ConversationID)
	cancelURL := fmt.Sprintf("%s/resume?conv_id=%s&status=cancel", base, r.ConversationID)

	co, err := o.payments.CreateCheckout(ctx, r.ConversationID, q, successURL, cancelURL)
	if err != nil {
		metrics.CheckoutsTotal.WithLabelValues("provider_error").Inc()
		o.logger.Warn("Checkout creation failed for %s: %v", r.ConversationID, err)
		return "I couldn't create the payment link just now. Let's try again in a moment."
	}

	r.Payment = &session.Payment{
		CheckoutID:     co.ID,
		CheckoutURL:    co.URL,
		Plan:           q.Plan,
		BillingCycle:   q.BillingCycle,
		PlanPriceCents: q.PlanPriceCents,
		StateFeeCents:  q.StateFeeCents,
		TotalDueCents:  q.TotalDueCents,
		CreatedAt:      time.Now().UTC(),
	}
	r.AwaitingPayment = true
	metrics.CheckoutsTotal.WithLabelValues("ok").Inc()
	o.logger.Info("💳 Checkout %s created for %s (total $%.2f)", co.ID, r.ConversationID,
		float64(q.TotalDueCents)/100)
	return fmt.Sprintf("🔗 Complete your payment here: %s\n\nTotal due: $%.2f (%s plan $%.2f plus $%.2f state filing fees). Once you've paid, come back and tell me.",
		co.URL, float64(q.TotalDueCents)/100, q.Plan,
		float64(q.PlanPriceCents)/100, float64(q.StateFeeCents)/100)
}

func (o *Orchestrator) checkPaymentStatus(ctx context.Context, r *session.Record) string {
	if r.Payment == nil || r.Payment.CheckoutID == "" {
		return "No payment has been started yet. Would you like to pick a plan?"
	}

	status, err := o.payments.QueryStatus(ctx, r.Payment.CheckoutID)
	if err != nil {
		o.logger.Warn("Status check failed for %s: %v", r.ConversationID, err)
		return "I couldn't reach the payment provider just now. Please try again shortly."
	}

	switch status {
	case payment.StatusComplete:
		r.AwaitingPayment = false
		o.logger.Info("🎉 Payment complete for %s", r.ConversationID)
		return o.postPaymentSummary(ctx, r)
	case payment.StatusFailed:
		r.AwaitingPayment = false
		r.Payment = nil
		return "That payment link has expired or was cancelled. I can create a fresh one whenever you're ready."
	default:
		return "Your payment hasn't come through yet. Finish the checkout page and then let me know."
	}
}

// postPaymentSummary asks the model for a closing recap of the engagement.
// Generation failure falls back to a static confirmation; payment completion
// is already persisted either way.
func (o *Orchestrator) postPaymentSummary(ctx context.Context, r *session.Record) string {
	const fallback = "🎉 Fantastic news, your payment went through! We'll take it from here and be in touch at your verified email with the filing confirmation."

	pol := policy.SummaryPolicy()
	resp, err := o.client.Complete(ctx, llmSummaryRequest(pol.Instructions, o.stateSummary(r)))
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		return fallback
	}
	return "🎉 " + strings.TrimSpace(resp.Content)
}
