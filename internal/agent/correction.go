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

const correctionContract = "\n\nRespond with exactly one JSON object: either {\"validated\": true} once the query runs cleanly, " +
	"{\"corrected_query\": string, \"original_query\": string, \"changes\": [string], \"executing\": true} after making an edit, " +
	"or, only on an unrecoverable failure, {\"error\": string, \"details\": string, \"attempted_conversions\": [string]}."

// CorrectionOutcome is the C7e agent's JSON contract (spec §4.7).
type CorrectionOutcome struct {
	Validated             bool     `json:"validated,omitempty"`
	CorrectedQuery        string   `json:"corrected_query,omitempty"`
	OriginalQuery         string   `json:"original_query,omitempty"`
	Changes               []string `json:"changes,omitempty"`
	Executing             bool     `json:"executing,omitempty"`
	Error                 string   `json:"error,omitempty"`
	Details               string   `json:"details,omitempty"`
	AttemptedConversions  []string `json:"attempted_conversions,omitempty"`
}

// Unrecoverable reports whether the sub-run must end in error (spec §4.7:
// "On unrecoverable parse/runtime errors, emits {error, details,
// attempted_conversions[]} and ends the sub-run").
func (o *CorrectionOutcome) Unrecoverable() bool {
	return o.Error != ""
}

// NewCorrection builds the C7e agent for one (originalSQL, executionError)
// pair, bounding its execute_sql/validate_sql tool-call loop to maxRounds
// (spec §4.7: "may execute the query up to max_correction_attempts (=5)
// times with intervening edits").
func NewCorrection(deps Deps, vars prompt.Vars, originalSQL, executionError string, maxRounds int) (*Agent, error) {
	rendered, err := deps.Prompts.Render(prompt.TemplateCorrection, vars, nil)
	if err != nil {
		return nil, fmt.Errorf("agent(correction): %w", err)
	}
	system := rendered + correctionContract

	run := func(ctx context.Context, thread *Thread, tools *tool.Registry) (*Result, error) {
		specs := toolSpecs(tools, "execute_sql", "validate_sql")
		messages := append([]llm.Message{{Role: llm.RoleSystem, Content: system}}, thread.Messages...)
		if len(thread.Messages) == 0 {
			messages = append(messages, llm.Message{
				Role:    llm.RoleUser,
				Content: fmt.Sprintf("Original query:\n%s\n\nExecution error:\n%s", originalSQL, executionError),
			})
		}

		completion, _, err := deps.LLM.RunToolLoop(ctx, messages, specs, toolExecutor(tools), maxRounds)
		if err != nil {
			return nil, fmt.Errorf("agent(correction): %w", err)
		}

		raw, err := sanitizeJSONPayload(completion.Message.Content, map[string]any{"validated": false})
		if err != nil {
			return nil, fmt.Errorf("agent(correction): %w", err)
		}

		var outcome CorrectionOutcome
		if err := json.Unmarshal([]byte(raw), &outcome); err != nil {
			return nil, fmt.Errorf("agent(correction): malformed outcome response: %w", err)
		}
		if outcome.OriginalQuery == "" {
			outcome.OriginalQuery = originalSQL
		}

		hint := router.AgentGeneration
		switch {
		case outcome.Validated:
			hint = router.AgentAnswer
		case outcome.Unrecoverable():
			hint = router.AgentTerminate
		}
		return &Result{Message: completion.Message, NextHint: hint, Structured: &outcome}, nil
	}

	return &Agent{Kind: KindCorrection, run: run}, nil
}
