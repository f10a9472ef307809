package server

import (
	"github.com/vecmcp/vecmcp/server/mcp/capability"
	"github.com/vecmcp/vecmcp/shared/mcp/schema"
)

// WithMCPPrompt is a server option to add an MCP prompt without arguments.
func WithMCPPrompt(name string, description string, handler capability.PromptHandler) ServerOption {
	return func(b *ServerBuilder) error {
		if err := b.EnsureMCPBaseCapability(); err != nil {
			return err
		}
		promptsCap, err := b.EnsurePromptsCapability()
		if err != nil {
			return err
		}
		return promptsCap.AddPrompt(name, description, nil, handler)
	}
}

// WithMCPPromptTemplate is a server option to add an MCP prompt that takes arguments.
func WithMCPPromptTemplate(name string, description string, arguments []schema.PromptArgument, handler capability.PromptHandler) ServerOption {
	return func(b *ServerBuilder) error {
		if err := b.EnsureMCPBaseCapability(); err != nil {
			return err
		}
		promptsCap, err := b.EnsurePromptsCapability()
		if err != nil {
			return err
		}
		return promptsCap.AddPrompt(name, description, arguments, handler)
	}
}

// WithMCPResource is a server option to add an MCP resource.
func WithMCPResource(uri string, name string, description string, mimeType string, handler capability.ResourceHandler) ServerOption {
	return func(b *ServerBuilder) error {
		if err := b.EnsureMCPBaseCapability(); err != nil {
			return err
		}
		resCap, err := b.EnsureResourcesCapability()
		if err != nil {
			return err
		}
		return resCap.AddResource(uri, name, description, mimeType, handler)
	}
}

// WithMCPTool is a server option to add an MCP tool.
func WithMCPTool(name string, description string, inputSchema *schema.JSONSchemaProperty, annotations *schema.ToolAnnotations, handler capability.ToolHandler) ServerOption {
	return func(b *ServerBuilder) error {
		// Ensure Base and Tools capabilities are initialized
		if err := b.EnsureMCPBaseCapability(); err != nil {
			return err
		}
		toolsCap, err := b.EnsureToolsCapability()
		if err != nil {
			return err
		}

		// Add the tool using the capability's method
		return toolsCap.AddTool(name, description, inputSchema, annotations, handler)
	}
}

// WithMCPRoot is a server option to add a filesystem root advertised on roots/list.
func WithMCPRoot(uri string, name string) ServerOption {
	return func(b *ServerBuilder) error {
		if err := b.EnsureMCPBaseCapability(); err != nil {
			return err
		}
		rootsCap, err := b.EnsureRootsCapability()
		if err != nil {
			return err
		}
		return rootsCap.AddRoot(uri, name)
	}
}

// WithSampling is a server option to advertise sampling support. Handlers can
// then ask the connected client for a completion via the sampling capability.
func WithSampling() ServerOption {
	return func(b *ServerBuilder) error {
		if err := b.EnsureMCPBaseCapability(); err != nil {
			return err
		}
		_, err := b.EnsureSamplingCapability()
		return err
	}
}
