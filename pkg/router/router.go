// Package router maps a conversation's mode to the policy that owns the turn
// and the capability list that bounds what the model may mutate.
package router

import (
	"incubator/pkg/session"
)

// Capability names. A mutation the model requests is applied only if the
// active policy's capability list contains the matching capability.
const (
	CapSetIdentityField     = "set_identity_field"
	CapSetStructuralField   = "set_structural_field"
	CapSendVerificationCode = "send_verification_code"
	CapVerifyCode           = "verify_code"
	CapResetVerification    = "reset_verification"
	CapRequestSwitch        = "request_switch"
	CapRequestPayment       = "request_payment"
	CapCreateCheckout       = "create_checkout"
	CapCheckPaymentStatus   = "check_payment_status"
)

// PolicyHandle identifies the policy owning a turn plus its capabilities.
type PolicyHandle struct {
	PolicyID     string
	Mode         session.Mode
	capabilities map[string]bool
}

// Policy identifiers.
const (
	PolicyIntake  = "intake"
	PolicyLLC     = "llc-formation"
	PolicyCorp    = "corp-formation"
	PolicyPayment = "payment"
)

// modeCapabilities is the single source of truth for what each mode's policy
// may do. Anything absent is refused, whatever the model asks for.
var modeCapabilities = map[session.Mode][]string{
	session.ModeIntake: {
		CapSetIdentityField,
		CapSendVerificationCode,
		CapVerifyCode,
		CapResetVerification,
		CapRequestSwitch,
	},
	session.ModeLLC: {
		CapSetIdentityField,
		CapSetStructuralField,
		CapSendVerificationCode,
		CapVerifyCode,
		CapResetVerification,
		CapRequestSwitch,
		CapRequestPayment,
	},
	session.ModeCorp: {
		CapSetIdentityField,
		CapSetStructuralField,
		CapSendVerificationCode,
		CapVerifyCode,
		CapResetVerification,
		CapRequestSwitch,
		CapRequestPayment,
	},
	session.ModePayment: {
		CapCreateCheckout,
		CapCheckPaymentStatus,
	},
}

var modePolicies = map[session.Mode]string{
	session.ModeIntake:  PolicyIntake,
	session.ModeLLC:     PolicyLLC,
	session.ModeCorp:    PolicyCorp,
	session.ModePayment: PolicyPayment,
}

// Route returns the policy handle for the record's current mode. Unknown modes
// fall back to intake rather than guessing at a formation policy.
func Route(r *session.Record) PolicyHandle {
	mode := r.Mode
	if !mode.Valid() {
		mode = session.ModeIntake
	}

	caps := make(map[string]bool)
	for _, c := range modeCapabilities[mode] {
		caps[c] = true
	}
	return PolicyHandle{
		PolicyID:     modePolicies[mode],
		Mode:         mode,
		capabilities: caps,
	}
}

// Allows reports whether the policy may exercise a capability. Unknown
// capability names are refused.
func (h PolicyHandle) Allows(capability string) bool {
	return h.capabilities[capability]
}

// Capabilities returns the capability names in no particular order.
func (h PolicyHandle) Capabilities() []string {
	out := make([]string, 0, len(h.capabilities))
	for c := range h.capabilities {
		out = append(out, c)
	}
	return out
}
