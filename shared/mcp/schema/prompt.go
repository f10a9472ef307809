package schema

// Prompt describes a prompt or template offered by the server.
type Prompt struct {
	Name        string           `json:"name"`                  // The name of the prompt or prompt template
	Description string           `json:"description,omitempty"` // An optional description of what this prompt provides
	Arguments   []PromptArgument `json:"arguments,omitempty"`   // A list of arguments to use for templating the prompt
}

// PromptArgument describes an argument for a prompt template.
type PromptArgument struct {
	Description string `json:"description,omitempty"` // Argument description
	Name        string `json:"name"`                  // Argument name
	Required    bool   `json:"required,omitempty"`    // Whether argument is required
}

// PromptMessage describes a message returned as part of a prompt.
// This is similar to `SamplingMessage`, but also supports the embedding of
// resources from the MCP server.
type PromptMessage struct {
	Role    Role    `json:"role"`    // Message sender/recipient (user or assistant)
	Content Content `json:"content"` // Message content (TextContent, ImageContent, AudioContent, or EmbeddedResource)
}

// ListPromptsRequestParams contains parameters for prompt listing requests.
type ListPromptsRequestParams struct {
	PaginatedRequestParams // Embeds pagination cursor
}

// ListPromptsResult is the server's response to a prompts/list request.
type ListPromptsResult struct {
	PaginatedResult          // Embeds next cursor
	Meta            Meta     `json:"_meta,omitempty"` // Reserved for metadata
	Prompts         []Prompt `json:"prompts"`         // Available prompts
}

// GetPromptRequestParams contains parameters for prompt retrieval.
type GetPromptRequestParams struct {
	Name      string            `json:"name"`                // The name of the prompt or prompt template
	Arguments map[string]string `json:"arguments,omitempty"` // Arguments to use for templating the prompt
}

// GetPromptResult contains the retrieved prompt.
type GetPromptResult struct {
	Meta        *Meta           `json:"_meta,omitempty"`       // Reserved for metadata
	Description string          `json:"description,omitempty"` // An optional description for the prompt
	Messages    []PromptMessage `json:"messages"`              // Prompt messages
}

// PromptListChangedNotification informs that available prompts have changed.
type PromptListChangedNotification struct {
	Method string                 `json:"method"` // const: "notifications/prompts/list_changed"
	Params map[string]interface{} `json:"params,omitempty"`
}
