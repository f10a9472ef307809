package shared

import "github.com/vecmcp/vecmcp/shared/mcp/schema"

type CapabilityOption string

type ICapability interface {
	GetHandlers() map[string]func(*Message) (interface{}, error)
}

type IServerCapability interface {
	SetCapabilities(s *schema.ServerCapabilities)
}

type IClientCapability interface {
	SetCapabilities(s *schema.ClientCapabilities)
}

// SecurityGate authorizes an inbound frame before dispatch. Embedders plug
// implementations into the validator chain; a non-nil error rejects the
// frame without running any handler.
type SecurityGate interface {
	Allow(msg *Message) error
}
