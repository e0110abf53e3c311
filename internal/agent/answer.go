package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/text2sql/orchestrator/internal/connector"
	"github.com/text2sql/orchestrator/internal/llm"
	"github.com/text2sql/orchestrator/internal/payload"
	"github.com/text2sql/orchestrator/internal/prompt"
	"github.com/text2sql/orchestrator/internal/router"
	"github.com/text2sql/orchestrator/internal/tool"
)

// SourceTuple is one sub-question's completed (sql, rows) contribution fed
// into answer assembly (spec §4.1 step 4).
type SourceTuple struct {
	SQL   string
	Rows  *connector.ExecuteResult
	Error string
}

// AnswerOutcome is the C7 answer-and-sources agent's JSON contract.
// Follow-up suggestions are produced by this same agent rather than a
// separate one (spec §9 open question: "Whether 'follow-up suggestions' are
// added by the Answer agent or a separate agent" — resolved in favor of a
// single agent with one extra prompt section, since both need the same
// combination_logic and source context).
type AnswerOutcome struct {
	Answer              string   `json:"answer"`
	FollowUpSuggestions []string `json:"follow_up_suggestions,omitempty"`
}

// NewAnswer builds the terminal answer-assembly agent over the accumulated
// sub-question sources, in round+index order (spec §5 ordering guarantee:
// "The final Answer agent sees sub-Run (sql, rows) in the round+index order
// produced by the Query Rewrite agent").
func NewAnswer(deps Deps, vars prompt.Vars, combinationLogic string, sources []SourceTuple, includeFollowUps bool) (*Agent, error) {
	system, err := deps.Prompts.Render(prompt.TemplateAnswer, vars, map[string]any{
		"combination_logic":              combinationLogic,
		"generate_follow_up_suggestions": includeFollowUps,
	})
	if err != nil {
		return nil, fmt.Errorf("agent(answer): %w", err)
	}

	sourcesBlob, err := json.Marshal(sources)
	if err != nil {
		return nil, fmt.Errorf("agent(answer): failed to encode sources: %w", err)
	}

	run := func(ctx context.Context, thread *Thread, _ *tool.Registry) (*Result, error) {
		messages := []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Sources:\n%s", sourcesBlob)},
		}
		messages = append(messages, thread.Messages...)

		completion, err := deps.LLM.Complete(ctx, messages, nil)
		if err != nil {
			return nil, fmt.Errorf("agent(answer): completion failed: %w", err)
		}

		var outcome AnswerOutcome
		if err := json.Unmarshal([]byte(completion.Message.Content), &outcome); err != nil {
			return nil, fmt.Errorf("agent(answer): malformed outcome response: %w", err)
		}

		answerText := outcome.Answer
		if includeFollowUps && len(outcome.FollowUpSuggestions) > 0 {
			answerText += "\n\nYou might also ask:\n- " + strings.Join(outcome.FollowUpSuggestions, "\n- ")
		}

		payloadSources := make([]payload.Source, 0, len(sources))
		for _, s := range sources {
			src := payload.Source{SQLQuery: s.SQL, Error: s.Error}
			if s.Rows != nil {
				src.SQLRows = s.Rows
			}
			payloadSources = append(payloadSources, src)
		}

		answerPayload := &payload.AnswerWithSources{Answer: answerText, Sources: payloadSources}
		return &Result{Message: completion.Message, NextHint: router.AgentTerminate, Structured: answerPayload}, nil
	}

	return &Agent{Kind: KindAnswer, run: run}, nil
}
