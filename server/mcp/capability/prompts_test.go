package capability_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vecmcp/vecmcp/server/mcp/capability"
	"github.com/vecmcp/vecmcp/shared"
	"github.com/vecmcp/vecmcp/shared/mcp/schema"
)

func staticPromptHandler(text string) capability.PromptHandler {
	return func(msg *shared.Message) (*schema.Meta, []schema.PromptMessage, error) {
		return nil, []schema.PromptMessage{
			{Role: schema.RoleUser, Content: schema.NewTextContent(text)[0]},
		}, nil
	}
}

// Prompts are only advertised once at least one is registered.
func TestPromptsCapability_SetCapabilities(t *testing.T) {
	manager := newCapManager(t)
	prompts := capability.NewPromptsCapability(zaptest.NewLogger(t), manager)

	caps := schema.ServerCapabilities{}
	prompts.SetCapabilities(&caps)
	assert.Nil(t, caps.Prompts)

	require.NoError(t, prompts.AddPrompt("greeting", "A friendly greeting", nil, staticPromptHandler("Hello!")))
	prompts.SetCapabilities(&caps)
	require.NotNil(t, caps.Prompts)
	assert.True(t, caps.Prompts.ListChanged)

	// Listing acknowledges the registration; the flag is armed again by the
	// next one.
	session := manager.GetOrCreateSession("", "", nil, nil)
	_, err := prompts.GetHandlers()["prompts/list"](newCapRequest(t, session, 1, "prompts/list", nil))
	require.NoError(t, err)
	prompts.SetCapabilities(&caps)
	require.NotNil(t, caps.Prompts)
	assert.False(t, caps.Prompts.ListChanged)

	require.NoError(t, prompts.UpdatePrompt("greeting", "A warmer greeting", nil, staticPromptHandler("Hi there!")))
	prompts.SetCapabilities(&caps)
	assert.True(t, caps.Prompts.ListChanged)
}

func TestPromptsCapability_AddUpdateDelete(t *testing.T) {
	manager := newCapManager(t)
	prompts := capability.NewPromptsCapability(zaptest.NewLogger(t), manager)

	require.NoError(t, prompts.AddPrompt("greeting", "A friendly greeting", nil, staticPromptHandler("Hello!")))

	err := prompts.AddPrompt("greeting", "Duplicate", nil, staticPromptHandler("Hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.Error(t, prompts.AddPrompt("broken", "No handler", nil, nil))
	require.Error(t, prompts.UpdatePrompt("missing", "", nil, staticPromptHandler("x")))
	require.Error(t, prompts.DeletePrompt("missing"))

	require.NoError(t, prompts.UpdatePrompt("greeting", "Updated greeting", nil, staticPromptHandler("Howdy!")))
	require.NoError(t, prompts.DeletePrompt("greeting"))
}

func TestPromptsCapability_List(t *testing.T) {
	manager := newCapManager(t)
	prompts := capability.NewPromptsCapability(zaptest.NewLogger(t), manager)
	session := manager.GetOrCreateSession("", "", nil, nil)

	require.NoError(t, prompts.AddPrompt("greeting", "A friendly greeting", nil, staticPromptHandler("Hello!")))
	require.NoError(t, prompts.AddPrompt("review", "Code review request", []schema.PromptArgument{
		{Name: "language", Description: "Language under review", Required: true},
	}, staticPromptHandler("Review this.")))

	raw, err := prompts.GetHandlers()["prompts/list"](newCapRequest(t, session, 1, "prompts/list", nil))
	require.NoError(t, err)
	list := raw.(schema.ListPromptsResult)
	require.Len(t, list.Prompts, 2)
	assert.Nil(t, list.NextCursor)

	byName := map[string]schema.Prompt{}
	for _, p := range list.Prompts {
		byName[p.Name] = p
	}
	require.Contains(t, byName, "review")
	require.Len(t, byName["review"].Arguments, 1)
	assert.True(t, byName["review"].Arguments[0].Required)
}

func TestPromptsCapability_Get(t *testing.T) {
	manager := newCapManager(t)
	prompts := capability.NewPromptsCapability(zaptest.NewLogger(t), manager)
	session := manager.GetOrCreateSession("", "", nil, nil)

	// A templated prompt renders against the arguments in the get request.
	templated := func(msg *shared.Message) (*schema.Meta, []schema.PromptMessage, error) {
		var params schema.GetPromptRequestParams
		if err := json.Unmarshal(*msg.Params, &params); err != nil {
			return nil, nil, err
		}
		text := fmt.Sprintf("Please review this %s code.", params.Arguments["language"])
		return nil, []schema.PromptMessage{
			{Role: schema.RoleUser, Content: schema.NewTextContent(text)[0]},
		}, nil
	}
	require.NoError(t, prompts.AddPrompt("review", "Code review request", []schema.PromptArgument{
		{Name: "language", Required: true},
	}, templated))

	raw, err := prompts.GetHandlers()["prompts/get"](newCapRequest(t, session, 1, "prompts/get",
		schema.GetPromptRequestParams{Name: "review", Arguments: map[string]string{"language": "Go"}}))
	require.NoError(t, err)

	result := raw.(schema.GetPromptResult)
	assert.Equal(t, "Code review request", result.Description)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, schema.RoleUser, result.Messages[0].Role)
	require.NotNil(t, result.Messages[0].Content.Text)
	assert.Equal(t, "Please review this Go code.", *result.Messages[0].Content.Text)
}

func TestPromptsCapability_GetBadRequests(t *testing.T) {
	manager := newCapManager(t)
	prompts := capability.NewPromptsCapability(zaptest.NewLogger(t), manager)
	session := manager.GetOrCreateSession("", "", nil, nil)
	handler := prompts.GetHandlers()["prompts/get"]

	t.Run("UnknownPrompt", func(t *testing.T) {
		_, err := handler(newCapRequest(t, session, 1, "prompts/get",
			schema.GetPromptRequestParams{Name: "nonexistent"}))
		requireInvalidParams(t, err)
	})

	t.Run("MissingParams", func(t *testing.T) {
		_, err := handler(newCapRequest(t, session, 2, "prompts/get", nil))
		requireInvalidParams(t, err)
	})
}

func TestPromptsCapability_HandlerError(t *testing.T) {
	manager := newCapManager(t)
	prompts := capability.NewPromptsCapability(zaptest.NewLogger(t), manager)
	session := manager.GetOrCreateSession("", "", nil, nil)

	failing := func(msg *shared.Message) (*schema.Meta, []schema.PromptMessage, error) {
		return nil, nil, errors.New("template engine crashed")
	}
	require.NoError(t, prompts.AddPrompt("doomed", "Always fails", nil, failing))

	_, err := prompts.GetHandlers()["prompts/get"](newCapRequest(t, session, 1, "prompts/get",
		schema.GetPromptRequestParams{Name: "doomed"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler for prompt 'doomed' failed")
}

func TestPromptsCapability_BroadcastsListChanged(t *testing.T) {
	manager := newCapManager(t)
	prompts := capability.NewPromptsCapability(zaptest.NewLogger(t), manager)

	session := manager.GetOrCreateSession("", "prompt-broadcast", nil, nil)
	output, ok := session.AcquireOutput()
	require.True(t, ok)
	session.SetStatus(shared.StatusConnected)

	require.NoError(t, prompts.AddPrompt("greeting", "A friendly greeting", nil, staticPromptHandler("Hello!")))
	waitForNotification(t, output, "notifications/prompts/list_changed")
}
