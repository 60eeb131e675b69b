// Package payment provides checkout creation and status queries against the
// payment provider, plus the state filing fee table and plan catalog.
package payment

import (
	"context"
)

// Status is the provider-reported payment status, collapsed to the four
// values the conversation logic distinguishes.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Quote is the priced order for one checkout.
type Quote struct {
	Plan           string
	BillingCycle   string
	PlanPriceCents int64
	StateFeeCents  int64
	TotalDueCents  int64
}

// BuildQuote prices a plan selection against the state filing fee for the
// given state and entity label.
func BuildQuote(planName, cycle, state, entity string) (Quote, error) {
	plan, ok := PlanByName(planName)
	if !ok {
		return Quote{}, errUnknownPlan(planName)
	}
	planCents, err := plan.PriceCents(cycle)
	if err != nil {
		return Quote{}, err
	}
	feeCents, err := FilingFeeCents(state, entity)
	if err != nil {
		return Quote{}, err
	}
	if cycle == "" {
		cycle = CycleYearly
	}
	return Quote{
		Plan:           plan.Name,
		BillingCycle:   cycle,
		PlanPriceCents: planCents,
		StateFeeCents:  feeCents,
		TotalDueCents:  planCents + feeCents,
	}, nil
}

// Checkout identifies a created provider checkout.
type Checkout struct {
	ID  string
	URL string
}

// Provider is the payment backend interface.
type Provider interface {
	// CreateCheckout creates a hosted checkout for the quote and returns its
	// id and URL. successURL and cancelURL are where the provider sends the
	// user afterwards.
	CreateCheckout(ctx context.Context, conversationID string, q Quote, successURL, cancelURL string) (Checkout, error)

	// QueryStatus reports the current status of a checkout. Provider errors
	// return StatusUnknown alongside the error; callers treat unknown as
	// not-yet-complete, never as success.
	QueryStatus(ctx context.Context, checkoutID string) (Status, error)
}

type errUnknownPlan string

func (e errUnknownPlan) Error() string {
	return "unknown plan \"" + string(e) + "\""
}
