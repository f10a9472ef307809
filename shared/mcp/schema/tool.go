package schema

type Arguments = map[string]interface{}
type Meta = map[string]interface{}

// JSONSchemaProperty represents a property in a JSON Schema
type JSONSchemaProperty struct {
	Type                 string                        `json:"type,omitempty"`
	Description          string                        `json:"description,omitempty"`
	Properties           map[string]JSONSchemaProperty `json:"properties,omitempty"`
	Required             []string                      `json:"required,omitempty"`
	Items                *JSONSchemaProperty           `json:"items,omitempty"`
	AdditionalProperties interface{}                   `json:"additionalProperties,omitempty"`
	Const                interface{}                   `json:"const,omitempty"`
	Ref                  string                        `json:"$ref,omitempty"`
	Schema               string                        `json:"$schema,omitempty"`
	AnyOf                []JSONSchemaProperty          `json:"anyOf,omitempty"`
	OneOf                []JSONSchemaProperty          `json:"oneOf,omitempty"`
	AllOf                []JSONSchemaProperty          `json:"allOf,omitempty"`
	Not                  *JSONSchemaProperty           `json:"not,omitempty"`
	PatternProperties    map[string]JSONSchemaProperty `json:"patternProperties,omitempty"`
	Definitions          map[string]JSONSchemaProperty `json:"definitions,omitempty"`
	Format               string                        `json:"format,omitempty"`
	Enum                 []interface{}                 `json:"enum,omitempty"`
	Minimum              *float64                      `json:"minimum,omitempty"`
	Maximum              *float64                      `json:"maximum,omitempty"`
	ExclusiveMinimum     *float64                      `json:"exclusiveMinimum,omitempty"`
	ExclusiveMaximum     *float64                      `json:"exclusiveMaximum,omitempty"`
	MultipleOf           *float64                      `json:"multipleOf,omitempty"`
	MinLength            *int                          `json:"minLength,omitempty"`
	MaxLength            *int                          `json:"maxLength,omitempty"`
	Pattern              string                        `json:"pattern,omitempty"`
	MinItems             *int                          `json:"minItems,omitempty"`
	MaxItems             *int                          `json:"maxItems,omitempty"`
	UniqueItems          *bool                         `json:"uniqueItems,omitempty"`
	MinProperties        *int                          `json:"minProperties,omitempty"`
	MaxProperties        *int                          `json:"maxProperties,omitempty"`
}

// ToolAnnotations provides additional properties describing a Tool to clients.
// NOTE: all properties in ToolAnnotations are **hints**.
// They are not guaranteed to provide a faithful description of tool behavior.
// Clients should never make tool use decisions based on ToolAnnotations received from untrusted servers.
type ToolAnnotations struct {
	// A human-readable title for the tool.
	Title string `json:"title,omitempty"`
	// If true, the tool does not modify its environment (Default: false).
	ReadOnlyHint *bool `json:"readOnlyHint,omitempty"`
	// If true, the tool may perform destructive updates (Default: true).
	// (Meaningful only when readOnlyHint == false).
	DestructiveHint *bool `json:"destructiveHint,omitempty"`
	// If true, repeated calls with same args have no additional effect (Default: false).
	// (Meaningful only when readOnlyHint == false).
	IdempotentHint *bool `json:"idempotentHint,omitempty"`
	// If true, this tool may interact with an "open world" (Default: true).
	OpenWorldHint *bool `json:"openWorldHint,omitempty"`
}

// Tool defines a callable tool the client can use.
type Tool struct {
	// The name of the tool.
	Name string `json:"name"`
	// A human-readable description of the tool.
	Description string `json:"description,omitempty"`
	// A JSON Schema object defining the expected parameters for the tool.
	InputSchema *JSONSchemaProperty `json:"inputSchema,omitempty"`
	// Optional additional tool information.
	Annotations *ToolAnnotations `json:"annotations,omitempty"`
}

// ListToolsRequestParams contains parameters for tool listing requests.
type ListToolsRequestParams struct {
	PaginatedRequestParams // Embeds pagination cursor
}

// ListToolsResult is the response to a tools list request.
type ListToolsResult struct {
	PaginatedResult        // Embeds next cursor
	Meta            Meta   `json:"_meta,omitempty"` // Reserved for metadata
	Tools           []Tool `json:"tools"`           // Available tools
}

// CallToolRequestParams contains parameters for tool call requests.
type CallToolRequestParams struct {
	// The name of the tool.
	Name string `json:"name"`
	// Arguments for the tool call.
	Arguments Arguments `json:"arguments"` // removed:omitempty because several implementations require this field to be present. Send empty object if no arguments are needed.
}

// CallToolResult contains the result of a tool invocation.
type CallToolResult struct {
	Meta *Meta `json:"_meta,omitempty"` // Reserved for metadata
	// Result content, can be Text, Image, Audio, or EmbeddedResource.
	Content []Content `json:"content"`
	// Whether the tool call ended in an error. If not set, assumed false.
	IsError bool `json:"isError,omitempty"`
}

// ToolListChangedNotification informs that available tools have changed.
type ToolListChangedNotification struct {
	Method string                 `json:"method"` // const: "notifications/tools/list_changed"
	Params map[string]interface{} `json:"params,omitempty"`
}
