package gate

import (
	"incubator/pkg/session"
)

// requiredFlags is the single source of truth for what "formation complete"
// means per mode. The check reads completion flags only, never field data.
var requiredFlags = map[session.Mode][]string{
	session.ModeLLC: {
		session.FlagIdentityCaptured,
		session.FlagVerificationPassed,
		session.FlagDesignatorSet,
		session.FlagGovernanceSet,
		session.FlagRegisteredAgentSet,
		session.FlagVirtualAddressSet,
	},
	session.ModeCorp: {
		session.FlagIdentityCaptured,
		session.FlagVerificationPassed,
		session.FlagDesignatorSet,
		session.FlagAuthorizedSharesSet,
		session.FlagRegisteredAgentSet,
		session.FlagVirtualAddressSet,
	},
}

// Checklist is the result of a completeness check.
type Checklist struct {
	Complete bool
	Missing  []string // unmet flag names, in checklist order
}

// Check evaluates formation completeness for a mode. Modes without a
// checklist (intake, payment) are never complete.
func Check(mode session.Mode, flags map[string]bool) Checklist {
	required, ok := requiredFlags[mode]
	if !ok {
		return Checklist{Complete: false, Missing: nil}
	}

	var missing []string
	for _, f := range required {
		if !flags[f] {
			missing = append(missing, f)
		}
	}
	return Checklist{Complete: len(missing) == 0, Missing: missing}
}

// RequiredFlags returns the checklist flag names for a mode, nil when the mode
// has no checklist.
func RequiredFlags(mode session.Mode) []string {
	required, ok := requiredFlags[mode]
	if !ok {
		return nil
	}
	out := make([]string, len(required))
	copy(out, required)
	return out
}
