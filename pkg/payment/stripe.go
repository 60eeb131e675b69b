package payment

import (
	"context"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"

	"incubator/pkg/logx"
	"incubator/pkg/metrics"
)

// StripeProvider implements Provider against Stripe Checkout.
type StripeProvider struct {
	logger *logx.Logger
}

// NewStripeProvider configures the Stripe SDK with the secret key and returns
// a provider. The SDK holds the key globally; one provider per process.
func NewStripeProvider(secretKey string) *StripeProvider {
	stripe.Key = secretKey
	return &StripeProvider{
		logger: logx.NewLogger("stripe"),
	}
}

// CreateCheckout implements Provider. The checkout carries two line items,
// the plan and the state filing fee, mirroring what the user was quoted.
func (p *StripeProvider) CreateCheckout(ctx context.Context, conversationID string, q Quote, successURL, cancelURL string) (Checkout, error) {
	planDisplay := fmt.Sprintf("%s Plan (%s)", q.Plan, q.BillingCycle)

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(string(stripe.CurrencyUSD)),
					UnitAmount: stripe.Int64(q.PlanPriceCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(planDisplay),
					},
				},
			},
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(string(stripe.CurrencyUSD)),
					UnitAmount: stripe.Int64(q.StateFeeCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("State filing fees"),
					},
				},
			},
		},
		SuccessURL:          stripe.String(successURL),
		CancelURL:           stripe.String(cancelURL),
		AllowPromotionCodes: stripe.Bool(true),
	}
	params.Context = ctx
	params.AddMetadata("conversation_id", conversationID)
	params.AddMetadata("plan", q.Plan)
	params.AddMetadata("billing_cycle", q.BillingCycle)
	params.AddMetadata("total_due_cents", strconv.FormatInt(q.TotalDueCents, 10))

	cs, err := checkoutsession.New(params)
	if err != nil {
		return Checkout{}, fmt.Errorf("stripe checkout creation failed: %w", err)
	}

	p.logger.Info("🔗 Checkout created for %s: %s (total %d cents)", conversationID, cs.ID, q.TotalDueCents)
	return Checkout{ID: cs.ID, URL: cs.URL}, nil
}

// QueryStatus implements Provider.
func (p *StripeProvider) QueryStatus(ctx context.Context, checkoutID string) (Status, error) {
	if checkoutID == "" {
		return StatusUnknown, nil
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	cs, err := checkoutsession.Get(checkoutID, params)
	if err != nil {
		metrics.PaymentStatusChecksTotal.WithLabelValues(string(StatusUnknown)).Inc()
		return StatusUnknown, fmt.Errorf("stripe status query failed: %w", err)
	}

	status := mapCheckoutStatus(cs)
	metrics.PaymentStatusChecksTotal.WithLabelValues(string(status)).Inc()
	return status, nil
}

// mapCheckoutStatus collapses Stripe's status pair onto the service's four
// values. Complete means complete AND paid; expired means failed; everything
// else is still pending.
func mapCheckoutStatus(cs *stripe.CheckoutSession) Status {
	if cs == nil {
		return StatusUnknown
	}
	switch {
	case cs.Status == stripe.CheckoutSessionStatusComplete && cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		return StatusComplete
	case cs.Status == stripe.CheckoutSessionStatusExpired:
		return StatusFailed
	default:
		return StatusPending
	}
}
