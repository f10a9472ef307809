package validators

import (
	"fmt"
	"sync"

	"github.com/vecmcp/vecmcp/shared"
)

// MethodValidator validates that the method in a message exists in the MCP specification
type MethodValidator struct {
	validMethods map[string]bool
	mu           sync.RWMutex
}

// NewMethodValidator creates a new method validator
func NewMethodValidator() *MethodValidator {
	v := &MethodValidator{
		validMethods: map[string]bool{
			// Client Requests
			"initialize":     true,
			"ping":           true,
			"tools/list":     true,
			"tools/call":     true,
			"resources/list": true,
			"resources/read": true,
			"prompts/list":   true,
			"prompts/get":    true,
			"roots/list":     true,

			// Notifications from the client
			"initialized":               true,
			"notifications/initialized": true,
			"notifications/cancelled":   true,
			"$/cancelRequest":           true,
			"$/cancel":                  true,
		},
	}

	return v
}

// AddMethod registers an additional method name as valid. Servers that
// expose custom capabilities call this for each extra method they handle.
func (v *MethodValidator) AddMethod(method string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.validMethods[method] = true
}

// Validate implements the MessageValidator interface
func (v *MethodValidator) Validate(msg *shared.Message) error {
	if msg.Method != nil {
		v.mu.RLock()
		valid := v.validMethods[*msg.Method]
		v.mu.RUnlock()

		if !valid {
			return shared.NewMethodNotFoundError(*msg.Method)
		}
	} else if msg.ID.IsEmpty() {
		return fmt.Errorf("method and id is empty")
	}
	return nil
}
