package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/text2sql/orchestrator/internal/llm"
	"github.com/text2sql/orchestrator/internal/prompt"
	"github.com/text2sql/orchestrator/internal/router"
	"github.com/text2sql/orchestrator/internal/tool"
)

func TestDisambiguation_unambiguousHintsGeneration(t *testing.T) {
	completer := &fakeCompleter{
		completeFn: func(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (*llm.Completion, error) {
			return completionWithContent(`{"filter_mapping":{"status":"shipped"},"aggregation_mapping":{}}`), nil
		},
	}
	entities := []json.RawMessage{json.RawMessage(`{"FQN":"db.sales.orders"}`)}
	a, err := NewDisambiguation(Deps{LLM: completer, Prompts: prompt.NewLoader(nil)}, prompt.Vars{}, "orders shipped", entities)
	require.NoError(t, err)

	result, err := a.Run(context.Background(), &Thread{}, tool.NewRegistry())
	require.NoError(t, err)
	require.Equal(t, router.AgentGeneration, result.NextHint)
}

func TestDisambiguation_ambiguousSuspends(t *testing.T) {
	completer := &fakeCompleter{
		completeFn: func(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (*llm.Completion, error) {
			return completionWithContent(`{"disambiguation":[{"question":"which status column?","matching_columns":["status","order_status"]}]}`), nil
		},
	}
	a, err := NewDisambiguation(Deps{LLM: completer, Prompts: prompt.NewLoader(nil)}, prompt.Vars{}, "orders shipped", nil)
	require.NoError(t, err)

	result, err := a.Run(context.Background(), &Thread{}, tool.NewRegistry())
	require.NoError(t, err)
	require.Equal(t, router.AgentSuspend, result.NextHint)

	outcome := result.Structured.(*DisambiguationOutcome)
	require.True(t, outcome.NeedsUserResponse())
	require.Len(t, outcome.Disambiguation, 1)
}
