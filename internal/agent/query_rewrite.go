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

// RewriteDecomposition is the Query Rewrite agent's JSON contract (spec
// §4.1 step 2 / §4.3).
type RewriteDecomposition struct {
	DecomposedUserMessages [][]string `json:"decomposed_user_messages"`
	CombinationLogic       string     `json:"combination_logic"`
	AllNonDatabaseQuery    bool       `json:"all_non_database_query"`
}

// NewQueryRewrite builds the C7a agent. useQueryCache resolves the router's
// "query_rewrite -> cache | schema_selection" fork (spec §4.2) into the
// Result's NextHint; it terminates after one invocation per Run (spec §4.3:
// "Terminates after one invocation per Run") so the returned Agent is
// intended to be called exactly once.
func NewQueryRewrite(deps Deps, vars prompt.Vars, useQueryCache bool) (*Agent, error) {
	system, err := deps.Prompts.Render(prompt.TemplateQueryRewrite, vars, nil)
	if err != nil {
		return nil, fmt.Errorf("agent(query_rewrite): %w", err)
	}

	next := router.AgentSchemaSelection
	if useQueryCache {
		next = router.AgentCache
	}

	run := func(ctx context.Context, thread *Thread, _ *tool.Registry) (*Result, error) {
		messages := append([]llm.Message{{Role: llm.RoleSystem, Content: system}}, thread.Messages...)
		completion, err := deps.LLM.Complete(ctx, messages, nil)
		if err != nil {
			return nil, fmt.Errorf("agent(query_rewrite): completion failed: %w", err)
		}

		raw, err := sanitizeJSONPayload(completion.Message.Content, map[string]any{
			"all_non_database_query": false,
			"combination_logic":      "",
		})
		if err != nil {
			return nil, fmt.Errorf("agent(query_rewrite): %w", err)
		}

		var decomposition RewriteDecomposition
		if err := json.Unmarshal([]byte(raw), &decomposition); err != nil {
			return nil, fmt.Errorf("agent(query_rewrite): malformed decomposition response: %w", err)
		}

		hint := next
		if decomposition.AllNonDatabaseQuery || len(decomposition.DecomposedUserMessages) == 0 {
			hint = router.AgentAnswer
		}

		return &Result{Message: completion.Message, NextHint: hint, Structured: &decomposition}, nil
	}

	return &Agent{Kind: KindQueryRewrite, run: run}, nil
}
