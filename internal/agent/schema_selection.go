package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/text2sql/orchestrator/internal/llm"
	"github.com/text2sql/orchestrator/internal/prompt"
	"github.com/text2sql/orchestrator/internal/router"
	"github.com/text2sql/orchestrator/internal/tool"
)

// SchemaSelectionOutcome is the C7b agent's result. EntitiesJSON is
// harvested directly from get_entity_schemas tool calls rather than
// restated by the model (spec §4.4: "Returns the union of retrieved Entity
// documents. Does not generate SQL"), avoiding a transcription step that
// could silently drop or corrupt a column.
type SchemaSelectionOutcome struct {
	EntitiesJSON   []json.RawMessage `json:"-"`
	Ambiguous      bool              `json:"ambiguous"`
	AmbiguousTerms []string          `json:"ambiguous_terms,omitempty"`
}

const schemaSelectionContract = "\n\nWhen you have gathered every entity you need, stop calling tools and respond with exactly the JSON object {\"ambiguous\": bool, \"ambiguous_terms\": [string]}."

// NewSchemaSelection builds the C7b agent, scoped to a single sub-question
// text (spec §4.4 Input). maxRounds bounds the get_entity_schemas /
// get_column_values tool-call loop.
func NewSchemaSelection(deps Deps, vars prompt.Vars, subQuestionText string, maxRounds int) (*Agent, error) {
	rendered, err := deps.Prompts.Render(prompt.TemplateSchemaSelection, vars, map[string]any{"sub_question": subQuestionText})
	if err != nil {
		return nil, fmt.Errorf("agent(schema_selection): %w", err)
	}
	system := rendered + schemaSelectionContract

	run := func(ctx context.Context, thread *Thread, tools *tool.Registry) (*Result, error) {
		specs := toolSpecs(tools, "get_entity_schemas", "get_column_values")
		messages := append([]llm.Message{{Role: llm.RoleSystem, Content: system}}, thread.Messages...)
		if len(thread.Messages) == 0 {
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: subQuestionText})
		}

		completion, history, err := deps.LLM.RunToolLoop(ctx, messages, specs, toolExecutor(tools), maxRounds)
		if err != nil {
			return nil, fmt.Errorf("agent(schema_selection): %w", err)
		}

		var outcome SchemaSelectionOutcome
		if err := json.Unmarshal([]byte(completion.Message.Content), &outcome); err != nil {
			return nil, fmt.Errorf("agent(schema_selection): malformed outcome response: %w", err)
		}
		outcome.EntitiesJSON = harvestToolResults(history, "get_entity_schemas")

		hint := router.AgentGeneration
		if outcome.Ambiguous {
			hint = router.AgentDisambiguation
		}
		return &Result{Message: completion.Message, NextHint: hint, Structured: &outcome}, nil
	}

	return &Agent{Kind: KindSchemaSelection, run: run}, nil
}
