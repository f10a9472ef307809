package exampleCapability

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/vecmcp/vecmcp/server"
	"github.com/vecmcp/vecmcp/server/mcp/capability"
	"github.com/vecmcp/vecmcp/shared"
	"github.com/vecmcp/vecmcp/shared/mcp/schema"
)

// Define Tool handlers directly in this package
var EchoTool = schema.Tool{
	Name:        "echo",
	Description: "echo a message",
	InputSchema: &schema.JSONSchemaProperty{
		Type: "object",
		Properties: map[string]schema.JSONSchemaProperty{
			"message": {
				Type:        "string",
				Description: "The message to echo back",
			},
		},
		Required: []string{"message"},
	},
}

func EchoToolHandler(_ *shared.Message, arguments schema.Arguments) (*schema.Meta, []schema.Content, error) {
	message, ok := arguments["message"].(string)
	if !ok {
		return nil, nil, fmt.Errorf("invalid 'message' argument type: expected string")
	}
	return nil, schema.NewTextContent("Echo: " + message), nil
}

var AddTool = schema.Tool{
	Name:        "add",
	Description: "add two numbers",
	InputSchema: &schema.JSONSchemaProperty{
		Type: "object",
		Properties: map[string]schema.JSONSchemaProperty{
			"a": {
				Type:        "number",
				Description: "First number to add",
			},
			"b": {
				Type:        "number",
				Description: "Second number to add",
			},
		},
		Required: []string{"a", "b"},
	},
}

func AddToolHandler(_ *shared.Message, arguments schema.Arguments) (*schema.Meta, []schema.Content, error) {
	// JSON numbers arrive as float64
	aFloat, okA := arguments["a"].(float64)
	bFloat, okB := arguments["b"].(float64)
	if !okA || !okB {
		return nil, nil, fmt.Errorf("invalid number arguments: expected float64")
	}
	result := strconv.Itoa(int(aFloat + bFloat))
	return nil, schema.NewTextContent(result), nil
}

var LongRunningTool = schema.Tool{
	Name:        "longRunningOperation",
	Description: "long running operation",
	InputSchema: &schema.JSONSchemaProperty{
		Type: "object",
		Properties: map[string]schema.JSONSchemaProperty{
			"duration": {Type: "number"},
			"steps":    {Type: "number"},
		},
		Required: []string{"duration"},
	},
}

func LongRunningHandler(msg *shared.Message, arguments schema.Arguments) (*schema.Meta, []schema.Content, error) {
	durationFloat, ok := arguments["duration"].(float64)
	if !ok {
		return nil, nil, fmt.Errorf("invalid 'duration' argument type: expected number")
	}

	select {
	case <-time.After(time.Duration(durationFloat) * time.Second):
	case <-msg.Context().Done():
		return nil, nil, msg.Context().Err()
	}

	return nil, schema.NewTextContent("completed"), nil
}

var SampleLLMTool = schema.Tool{
	Name:        "sampleLLM",
	Description: "ask the connected client to run an LLM completion",
	InputSchema: &schema.JSONSchemaProperty{
		Type: "object",
		Properties: map[string]schema.JSONSchemaProperty{
			"prompt":    {Type: "string"},
			"maxTokens": {Type: "number"},
		},
		Required: []string{"prompt", "maxTokens"},
	},
}

func SampleLLMHandler(msg *shared.Message, arguments schema.Arguments) (*schema.Meta, []schema.Content, error) {
	prompt, okP := arguments["prompt"].(string)
	maxTokensFloat, okM := arguments["maxTokens"].(float64)
	if !okP || !okM {
		return nil, nil, fmt.Errorf("invalid arguments for sampleLLM")
	}

	text := "Resource sampleLLM context: " + prompt

	// Blocks until the client answers or the default outbound timeout fires.
	raw, err := msg.Session.SendRequestSync(msg.Context(), "sampling/createMessage",
		&schema.CreateMessageRequestParams{
			Messages: []schema.SamplingMessage{{
				Role: schema.RoleUser,
				Content: schema.Content{
					Type: "text",
					Text: &text,
				},
			}},
			SystemPrompt:   "You are a helpful test server.",
			MaxTokens:      int(maxTokensFloat),
			Temperature:    shared.PointerTo(0.7),
			IncludeContext: "thisServer",
		}, 0)
	if err != nil {
		return nil, nil, err
	}

	var createMessageResult schema.CreateMessageResult
	if err := json.Unmarshal(*raw, &createMessageResult); err != nil {
		return nil, nil, err
	}

	resultStr := "LLM sampling result: "
	if createMessageResult.Content.Text != nil {
		resultStr += *createMessageResult.Content.Text
	}
	return nil, schema.NewTextContent(resultStr), nil
}

var TinyImageTool = schema.Tool{
	Name:        "getTinyImage",
	Description: "Returns the MCP_TINY_IMAGE",
	InputSchema: &schema.JSONSchemaProperty{
		Type:       "object",
		Properties: map[string]schema.JSONSchemaProperty{},
		Required:   []string{},
	},
}

func TinyImageHandler(_ *shared.Message, _ schema.Arguments) (*schema.Meta, []schema.Content, error) {
	text1 := "This is a tiny image:"
	mimeType := "image/png"
	data := mcpTinyImagePNG
	text2 := "The image above is the MCP tiny image."
	return nil, []schema.Content{{
		Type: "text",
		Text: &text1,
	}, {
		Type:     "image",
		Data:     &data,
		MimeType: &mimeType,
	}, {
		Type: "text",
		Text: &text2,
	}}, nil
}

var PrintEnvTool = schema.Tool{
	Name:        "printEnv",
	Description: "Returns the server environment as JSON",
	InputSchema: &schema.JSONSchemaProperty{
		Type:       "object",
		Properties: map[string]schema.JSONSchemaProperty{},
		Required:   []string{},
	},
}

func PrintEnvHandler(_ *shared.Message, _ schema.Arguments) (*schema.Meta, []schema.Content, error) {
	env, err := json.MarshalIndent(os.Environ(), "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return nil, schema.NewTextContent(string(env)), nil
}

// --- Prompt Definitions ---
var SimplePrompt = schema.Prompt{
	Name:        "simple_prompt",
	Description: "A simple prompt without arguments",
}

func SimplePromptHandler(_ *shared.Message) (*schema.Meta, []schema.PromptMessage, error) {
	responseText := "This is a simple prompt without arguments."
	return nil, []schema.PromptMessage{{
		Role: schema.RoleUser,
		Content: schema.Content{
			Type: "text",
			Text: &responseText,
		},
	}}, nil
}

var ComplexPromptTemplate = schema.Prompt{
	Name:        "complex_prompt",
	Description: "Advanced prompt demonstrating argument handling",
	Arguments: []schema.PromptArgument{
		{Name: "temperature", Description: "Sampling temperature", Required: true},
		{Name: "style", Description: "Generation style", Required: false},
	},
}

func ComplexPromptHandler(msg *shared.Message) (*schema.Meta, []schema.PromptMessage, error) {
	// Parse parameters from the message
	var params schema.GetPromptRequestParams
	if msg.Params != nil {
		if err := json.Unmarshal(*msg.Params, &params); err != nil {
			return nil, nil, fmt.Errorf("failed to parse parameters: %v", err)
		}
	}

	// Get the temperature parameter (required)
	tempStr, ok := params.Arguments["temperature"]
	if !ok {
		return nil, nil, fmt.Errorf("missing required parameter: temperature")
	}

	// Get the style parameter (optional)
	style, hasStyle := params.Arguments["style"]
	if !hasStyle {
		style = "standard" // Default style
	}

	// Multi-turn conversation with an image response
	userText := fmt.Sprintf("This is a complex prompt using temperature: %s and style: %s", tempStr, style)
	assistantText := "I'll demonstrate a multi-turn conversation with image response."
	userFollowupText := "Thanks for the detailed response with image!"

	mimeType := "image/png"
	data := mcpTinyImagePNG

	return nil, []schema.PromptMessage{
		{
			Role: schema.RoleUser,
			Content: schema.Content{
				Type: "text",
				Text: &userText,
			},
		},
		{
			Role: schema.RoleAssistant,
			Content: schema.Content{
				Type: "text",
				Text: &assistantText,
			},
		},
		{
			Role: schema.RoleAssistant,
			Content: schema.Content{
				Type:     "image",
				Data:     &data,
				MimeType: &mimeType,
			},
		},
		{
			Role: schema.RoleUser,
			Content: schema.Content{
				Type: "text",
				Text: &userFollowupText,
			},
		},
	}, nil
}

// --- Resource Definitions ---
func ResourceHandlerOdd(i int) capability.ResourceHandler {
	return func(msg *shared.Message) (schema.Meta, []schema.ResourceContent, error) {
		uri := fmt.Sprintf("test://static/resource/%d", i)
		text := fmt.Sprintf("Resource %d: This is a plaintext resource", i)
		return nil, []schema.ResourceContent{{
			URI:      uri,
			MimeType: "text/plain",
			Text:     &text,
		}}, nil
	}
}

func ResourceHandlerEven(i int) capability.ResourceHandler {
	return func(msg *shared.Message) (schema.Meta, []schema.ResourceContent, error) {
		uri := fmt.Sprintf("test://static/resource/%d", i)
		data := fmt.Sprintf("Resource %d: This is a base64 blob", i)
		encodedData := base64.StdEncoding.EncodeToString([]byte(data))
		return nil, []schema.ResourceContent{{
			URI:      uri,
			MimeType: "application/octet-stream",
			Blob:     &encodedData,
		}}, nil
	}
}

// BuildOptions creates the ServerOption slice for the example server.
func BuildOptions(logger *zap.Logger) []server.ServerOption {
	options := []server.ServerOption{
		// Add tools
		server.WithMCPTool(EchoTool.Name, EchoTool.Description, EchoTool.InputSchema, EchoTool.Annotations, EchoToolHandler),
		server.WithMCPTool(AddTool.Name, AddTool.Description, AddTool.InputSchema, AddTool.Annotations, AddToolHandler),
		server.WithMCPTool(LongRunningTool.Name, LongRunningTool.Description, LongRunningTool.InputSchema, LongRunningTool.Annotations, LongRunningHandler),
		server.WithMCPTool(SampleLLMTool.Name, SampleLLMTool.Description, SampleLLMTool.InputSchema, SampleLLMTool.Annotations, SampleLLMHandler),
		server.WithMCPTool(TinyImageTool.Name, TinyImageTool.Description, TinyImageTool.InputSchema, TinyImageTool.Annotations, TinyImageHandler),
		server.WithMCPTool(PrintEnvTool.Name, PrintEnvTool.Description, PrintEnvTool.InputSchema, PrintEnvTool.Annotations, PrintEnvHandler),

		// Add prompts
		server.WithMCPPrompt(SimplePrompt.Name, SimplePrompt.Description, SimplePromptHandler),
		server.WithMCPPromptTemplate(ComplexPromptTemplate.Name, ComplexPromptTemplate.Description, ComplexPromptTemplate.Arguments, ComplexPromptHandler),

		// Advertise a workspace root
		server.WithMCPRoot("file:///workspace", "Workspace"),

		// The sampleLLM tool needs sampling advertised in the handshake
		server.WithSampling(),
	}

	// Add static resources
	for i := 1; i <= 10; i++ {
		uri := fmt.Sprintf("test://static/resource/%d", i)
		resourceName := fmt.Sprintf("Resource %d", i)
		var mimeType string
		var handler capability.ResourceHandler
		if i%2 == 1 {
			mimeType = "text/plain"
			handler = ResourceHandlerOdd(i)
		} else {
			mimeType = "application/octet-stream"
			handler = ResourceHandlerEven(i)
		}
		options = append(options, server.WithMCPResource(uri, resourceName, "Static resource", mimeType, handler))
	}

	return options
}
