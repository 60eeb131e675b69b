package payment

import (
	"fmt"
	"strings"
)

// Billing cycles. Only the Elite plan offers monthly billing.
const (
	CycleYearly  = "yearly"
	CycleMonthly = "monthly"
)

// Plan is one service tier from the catalog.
type Plan struct {
	Name         string
	YearlyCents  int64
	MonthlyCents int64 // 0 when the plan has no monthly option
}

// planCatalog is the service tier pricebook.
var planCatalog = []Plan{
	{Name: "Classic", YearlyCents: 29900},
	{Name: "Premium", YearlyCents: 149900},
	{Name: "Elite", YearlyCents: 508900, MonthlyCents: 49900},
}

// PlanByName looks up a plan case-insensitively.
func PlanByName(name string) (Plan, bool) {
	for _, p := range planCatalog {
		if strings.EqualFold(p.Name, strings.TrimSpace(name)) {
			return p, true
		}
	}
	return Plan{}, false
}

// Plans returns the catalog in presentation order.
func Plans() []Plan {
	out := make([]Plan, len(planCatalog))
	copy(out, planCatalog)
	return out
}

// PriceCents returns the plan price for a billing cycle. An empty cycle means
// yearly. Monthly is only valid for plans that offer it.
func (p Plan) PriceCents(cycle string) (int64, error) {
	switch strings.ToLower(strings.TrimSpace(cycle)) {
	case "", CycleYearly:
		return p.YearlyCents, nil
	case CycleMonthly:
		if p.MonthlyCents == 0 {
			return 0, fmt.Errorf("plan %s has no monthly billing option", p.Name)
		}
		return p.MonthlyCents, nil
	default:
		return 0, fmt.Errorf("unknown billing cycle %q", cycle)
	}
}
