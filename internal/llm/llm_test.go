package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigValidate_requiresAPIKeyAndModel(t *testing.T) {
	require.Error(t, (&Config{}).validate())
	require.Error(t, (&Config{APIKey: "k"}).validate())
	require.NoError(t, (&Config{APIKey: "k", Model: "gpt-4o"}).validate())
}

func TestDecodeSchema_fallsBackOnEmptyOrInvalid(t *testing.T) {
	empty := decodeSchema(nil)
	require.Equal(t, "object", empty["type"])

	invalid := decodeSchema(json.RawMessage(`not json`))
	require.Equal(t, "object", invalid["type"])

	valid := decodeSchema(json.RawMessage(`{"type":"object","properties":{"x":{"type":"string"}}}`))
	props, ok := valid["properties"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, props, "x")
}

func TestToOpenAIMessages_roundTripsRoles(t *testing.T) {
	out := toOpenAIMessages([]Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleTool, Content: "42", ToolCallID: "call_1"},
	})
	require.Len(t, out, 4)
}

func TestToOpenAIMessages_assistantMessageRetainsToolCalls(t *testing.T) {
	out := toOpenAIMessages([]Message{
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_1", Name: "get_entity_schemas", Arguments: "{}"}}},
	})
	require.Len(t, out, 1)
	require.NotNil(t, out[0].OfAssistant)
	require.Len(t, out[0].OfAssistant.ToolCalls, 1)
	require.Equal(t, "call_1", out[0].OfAssistant.ToolCalls[0].OfFunction.ID)
	require.Equal(t, "get_entity_schemas", out[0].OfAssistant.ToolCalls[0].OfFunction.Function.Name)
}

func TestToOpenAITools_buildsOneEntryPerSpec(t *testing.T) {
	out := toOpenAITools([]ToolSpec{
		{Name: "get_entity_schemas", Description: "fetch schemas", Parameters: json.RawMessage(`{"type":"object"}`)},
		{Name: "execute_sql", Description: "run sql", Parameters: json.RawMessage(`{"type":"object"}`)},
	})
	require.Len(t, out, 2)
}
