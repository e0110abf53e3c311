package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/text2sql/orchestrator/internal/config"
	"github.com/text2sql/orchestrator/internal/llm"
	"github.com/text2sql/orchestrator/internal/prompt"
	"github.com/text2sql/orchestrator/internal/router"
	"github.com/text2sql/orchestrator/internal/tool"
)

const generationContract = "\n\nRespond with exactly the JSON object {\"sql\": string} once validate_sql confirms the statement, or after exhausting your self-correction attempts."

// GenerationOutcome is the C7d agent's result. Validated/ValidationErrors
// are filled in by an authoritative re-validation this package performs
// after the model finishes (spec §4.6 "Validation loop... call the SQL
// Validator (C13)"), rather than trusted from whatever the model claimed
// mid-loop.
type GenerationOutcome struct {
	SQL              string   `json:"sql"`
	Validated        bool     `json:"-"`
	ValidationErrors []string `json:"-"`
}

// NewGeneration builds the C7d agent for dialect, bounding its tool-call
// loop (get_entity_schemas, get_column_values, validate_sql,
// current_datetime) to maxRounds (spec §4.6: "self-correct up to 2
// retries").
func NewGeneration(deps Deps, vars prompt.Vars, dialect config.Engine, maxRounds int) (*Agent, error) {
	system, err := deps.Prompts.Render(prompt.TemplateGeneration, vars, nil)
	if err != nil {
		return nil, fmt.Errorf("agent(generation): %w", err)
	}
	contract := system + generationContract

	run := func(ctx context.Context, thread *Thread, tools *tool.Registry) (*Result, error) {
		specs := toolSpecs(tools, "get_entity_schemas", "get_column_values", "validate_sql", "current_datetime")
		messages := append([]llm.Message{{Role: llm.RoleSystem, Content: contract}}, thread.Messages...)

		completion, _, err := deps.LLM.RunToolLoop(ctx, messages, specs, toolExecutor(tools), maxRounds)
		if err != nil {
			return nil, fmt.Errorf("agent(generation): %w", err)
		}

		var outcome GenerationOutcome
		if err := json.Unmarshal([]byte(completion.Message.Content), &outcome); err != nil {
			return nil, fmt.Errorf("agent(generation): malformed outcome response: %w", err)
		}

		validateArgs, err := json.Marshal(tool.ValidateSQLArgs{SQL: outcome.SQL, Dialect: string(dialect)})
		if err == nil {
			if raw, err := toolExecutor(tools)(ctx, "validate_sql", string(validateArgs)); err == nil {
				var vr tool.ValidateSQLResult
				if json.Unmarshal([]byte(raw), &vr) == nil {
					outcome.Validated = vr.OK
					outcome.ValidationErrors = vr.Errors
				}
			}
		}

		return &Result{Message: completion.Message, NextHint: router.AgentCorrection, Structured: &outcome}, nil
	}

	return &Agent{Kind: KindGeneration, run: run}, nil
}
