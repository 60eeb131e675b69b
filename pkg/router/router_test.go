package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"incubator/pkg/session"
)

func TestRouteByMode(t *testing.T) {
	tests := []struct {
		mode   session.Mode
		policy string
	}{
		{session.ModeIntake, PolicyIntake},
		{session.ModeLLC, PolicyLLC},
		{session.ModeCorp, PolicyCorp},
		{session.ModePayment, PolicyPayment},
	}

	for _, tt := range tests {
		r := session.NewRecord("conv")
		r.Mode = tt.mode
		h := Route(r)
		assert.Equal(t, tt.policy, h.PolicyID, "mode %s", tt.mode)
		assert.Equal(t, tt.mode, h.Mode)
	}
}

func TestRouteUnknownModeFallsBackToIntake(t *testing.T) {
	r := session.NewRecord("conv")
	r.Mode = session.Mode("GARBAGE")

	h := Route(r)
	assert.Equal(t, PolicyIntake, h.PolicyID)
	assert.Equal(t, session.ModeIntake, h.Mode)
}

func TestPaymentPolicyCannotTouchFormation(t *testing.T) {
	r := session.NewRecord("conv")
	r.Mode = session.ModePayment
	h := Route(r)

	assert.True(t, h.Allows(CapCreateCheckout))
	assert.True(t, h.Allows(CapCheckPaymentStatus))
	assert.False(t, h.Allows(CapSetIdentityField))
	assert.False(t, h.Allows(CapSetStructuralField))
	assert.False(t, h.Allows(CapRequestSwitch))
}

func TestIntakeCannotRequestPaymentOrCheckout(t *testing.T) {
	r := session.NewRecord("conv")
	h := Route(r)

	assert.True(t, h.Allows(CapSetIdentityField))
	assert.True(t, h.Allows(CapRequestSwitch))
	assert.False(t, h.Allows(CapRequestPayment))
	assert.False(t, h.Allows(CapCreateCheckout))
	assert.False(t, h.Allows(CapSetStructuralField))
}

func TestUnknownCapabilityRefused(t *testing.T) {
	r := session.NewRecord("conv")
	r.Mode = session.ModeLLC
	h := Route(r)

	assert.False(t, h.Allows("drop_all_tables"))
	assert.False(t, h.Allows(""))
}
