// Package policy defines the per-mode dialogue policies: persona instructions,
// the mutation protocol the model speaks, and the exact confirmation token
// guarding the payment gate.
package policy

import (
	"incubator/pkg/router"
	"incubator/pkg/session"
)

// ConfirmationToken is the exact message that arms the payment gate for one
// attempt. Matched against the trimmed raw user message, case-insensitively,
// with no surrounding text allowed.
const ConfirmationToken = "I Confirm"

// Mutation names the model may request. Each maps to one capability; requests
// with no mapping are refused outright.
const (
	MutSetIdentityField     = "setIdentityField"
	MutSetStructuralField   = "setStructuralField"
	MutSendVerificationCode = "sendVerificationCode"
	MutVerifyCode           = "verifyCode"
	MutChangeVerifiedEmail  = "changeVerifiedEmail"
	MutRequestSwitch        = "requestSwitch"
	MutRequestPayment       = "requestPayment"
	MutCreateCheckout       = "createCheckout"
	MutCheckPaymentStatus   = "checkPaymentStatus"
)

var mutationCapabilities = map[string]string{
	MutSetIdentityField:     router.CapSetIdentityField,
	MutSetStructuralField:   router.CapSetStructuralField,
	MutSendVerificationCode: router.CapSendVerificationCode,
	MutVerifyCode:           router.CapVerifyCode,
	MutChangeVerifiedEmail:  router.CapResetVerification,
	MutRequestSwitch:        router.CapRequestSwitch,
	MutRequestPayment:       router.CapRequestPayment,
	MutCreateCheckout:       router.CapCreateCheckout,
	MutCheckPaymentStatus:   router.CapCheckPaymentStatus,
}

// CapabilityFor returns the capability guarding a mutation name.
func CapabilityFor(mutation string) (string, bool) {
	cap, ok := mutationCapabilities[mutation]
	return cap, ok
}

// Mutation is one state change requested by the model alongside its reply.
type Mutation struct {
	Name string            `json:"name"`
	Args map[string]string `json:"args,omitempty"`
}

// Policy is a per-mode dialogue policy.
type Policy struct {
	ID           string
	Mode         session.Mode
	Instructions string
}

// ForMode returns the policy for a mode. Unknown modes get the intake policy.
func ForMode(mode session.Mode) Policy {
	switch mode {
	case session.ModeLLC:
		return Policy{ID: router.PolicyLLC, Mode: mode, Instructions: llcInstructions}
	case session.ModeCorp:
		return Policy{ID: router.PolicyCorp, Mode: mode, Instructions: corpInstructions}
	case session.ModePayment:
		return Policy{ID: router.PolicyPayment, Mode: mode, Instructions: paymentInstructions}
	default:
		return Policy{ID: router.PolicyIntake, Mode: session.ModeIntake, Instructions: intakeInstructions}
	}
}
