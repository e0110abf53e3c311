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

// DisambiguationQuestion is one clarification item (spec §4.5).
type DisambiguationQuestion struct {
	Question              string   `json:"question"`
	MatchingColumns       []string `json:"matching_columns,omitempty"`
	MatchingFilterValues  []string `json:"matching_filter_values,omitempty"`
	OtherUserChoices      []string `json:"other_user_choices,omitempty"`
}

// DisambiguationOutcome is the C7c agent's JSON contract: either an
// unambiguous mapping or a set of clarification questions (spec §4.5).
type DisambiguationOutcome struct {
	FilterMapping      map[string]any            `json:"filter_mapping,omitempty"`
	AggregationMapping map[string]any            `json:"aggregation_mapping,omitempty"`
	Disambiguation     []DisambiguationQuestion  `json:"disambiguation,omitempty"`
	Clarification      []string                  `json:"clarification,omitempty"`
}

// NeedsUserResponse reports whether this outcome must suspend the Run
// awaiting a caller reply (spec §4.2 router row "disambiguation, user
// response pending -> suspend").
func (o *DisambiguationOutcome) NeedsUserResponse() bool {
	return len(o.Disambiguation) > 0
}

// NewDisambiguation builds the C7c agent against a sub-question and the
// Entity documents Schema Selection already retrieved (spec §4.5 Input:
// "the retrieved schemas and the sub-question"). It performs no tool calls
// of its own.
func NewDisambiguation(deps Deps, vars prompt.Vars, subQuestionText string, entitiesJSON []json.RawMessage) (*Agent, error) {
	system, err := deps.Prompts.Render(prompt.TemplateDisambiguation, vars, nil)
	if err != nil {
		return nil, fmt.Errorf("agent(disambiguation): %w", err)
	}

	schemasBlob, err := json.Marshal(entitiesJSON)
	if err != nil {
		return nil, fmt.Errorf("agent(disambiguation): failed to encode retrieved schemas: %w", err)
	}

	run := func(ctx context.Context, thread *Thread, _ *tool.Registry) (*Result, error) {
		messages := []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Sub-question: %s\nRetrieved schemas: %s", subQuestionText, schemasBlob)},
		}
		messages = append(messages, thread.Messages...)

		completion, err := deps.LLM.Complete(ctx, messages, nil)
		if err != nil {
			return nil, fmt.Errorf("agent(disambiguation): completion failed: %w", err)
		}

		raw, err := sanitizeJSONPayload(completion.Message.Content, nil)
		if err != nil {
			return nil, fmt.Errorf("agent(disambiguation): %w", err)
		}

		var outcome DisambiguationOutcome
		if err := json.Unmarshal([]byte(raw), &outcome); err != nil {
			return nil, fmt.Errorf("agent(disambiguation): malformed outcome response: %w", err)
		}

		hint := router.AgentGeneration
		if outcome.NeedsUserResponse() {
			hint = router.AgentSuspend
		}
		return &Result{Message: completion.Message, NextHint: hint, Structured: &outcome}, nil
	}

	return &Agent{Kind: KindDisambiguation, run: run}, nil
}
