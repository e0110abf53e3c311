package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/text2sql/orchestrator/internal/connector"
	"github.com/text2sql/orchestrator/internal/llm"
	"github.com/text2sql/orchestrator/internal/payload"
	"github.com/text2sql/orchestrator/internal/prompt"
	"github.com/text2sql/orchestrator/internal/router"
	"github.com/text2sql/orchestrator/internal/tool"
)

func TestAnswer_appendsFollowUpsWhenEnabled(t *testing.T) {
	completer := &fakeCompleter{
		completeFn: func(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (*llm.Completion, error) {
			return completionWithContent(`{"answer":"Orders shipped last week: 42.","follow_up_suggestions":["What about returns?"]}`), nil
		},
	}
	sources := []SourceTuple{
		{SQL: "SELECT COUNT(*) FROM orders", Rows: &connector.ExecuteResult{Columns: []string{"count"}, Rows: [][]any{{42}}}},
	}
	a, err := NewAnswer(Deps{LLM: completer, Prompts: prompt.NewLoader(nil)}, prompt.Vars{}, "single", sources, true)
	require.NoError(t, err)

	result, err := a.Run(context.Background(), &Thread{}, tool.NewRegistry())
	require.NoError(t, err)
	require.Equal(t, router.AgentTerminate, result.NextHint)

	answer := result.Structured.(*payload.AnswerWithSources)
	require.Contains(t, answer.Answer, "Orders shipped last week: 42.")
	require.Contains(t, answer.Answer, "What about returns?")
	require.Len(t, answer.Sources, 1)
}

func TestAnswer_omitsFollowUpsWhenDisabled(t *testing.T) {
	completer := &fakeCompleter{
		completeFn: func(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (*llm.Completion, error) {
			return completionWithContent(`{"answer":"Orders shipped last week: 42.","follow_up_suggestions":["What about returns?"]}`), nil
		},
	}
	a, err := NewAnswer(Deps{LLM: completer, Prompts: prompt.NewLoader(nil)}, prompt.Vars{}, "single", nil, false)
	require.NoError(t, err)

	result, err := a.Run(context.Background(), &Thread{}, tool.NewRegistry())
	require.NoError(t, err)

	answer := result.Structured.(*payload.AnswerWithSources)
	require.NotContains(t, answer.Answer, "What about returns?")
}

func TestAnswer_sourceErrorIsCarried(t *testing.T) {
	completer := &fakeCompleter{
		completeFn: func(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (*llm.Completion, error) {
			return completionWithContent(`{"answer":"Partial answer due to one failed source."}`), nil
		},
	}
	sources := []SourceTuple{{SQL: "SELECT * FROM broken", Error: "timeout"}}
	a, err := NewAnswer(Deps{LLM: completer, Prompts: prompt.NewLoader(nil)}, prompt.Vars{}, "single", sources, false)
	require.NoError(t, err)

	result, err := a.Run(context.Background(), &Thread{}, tool.NewRegistry())
	require.NoError(t, err)

	answer := result.Structured.(*payload.AnswerWithSources)
	require.Equal(t, "timeout", answer.Sources[0].Error)
}
