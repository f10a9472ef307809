package validators

import (
	"github.com/vecmcp/vecmcp/shared"
)

// SecurityGateValidator adapts a SecurityGate into the message validator chain,
// so authorization runs in the same place as size and rate checks.
type SecurityGateValidator struct {
	gate shared.SecurityGate
}

// NewSecurityGateValidator creates a validator backed by the given gate
func NewSecurityGateValidator(gate shared.SecurityGate) *SecurityGateValidator {
	return &SecurityGateValidator{gate: gate}
}

// Validate implements the MessageValidator interface
func (v *SecurityGateValidator) Validate(msg *shared.Message) error {
	return v.gate.Allow(msg)
}
