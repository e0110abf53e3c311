package agent

import (
	"context"

	"github.com/text2sql/orchestrator/internal/llm"
)

// fakeCompleter is a scripted stand-in for *llm.Client, letting tests drive
// agent control flow (JSON parsing, NextHint selection) without a network
// call.
type fakeCompleter struct {
	completeFn    func(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (*llm.Completion, error)
	runToolLoopFn func(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec, exec llm.ToolExecutor, maxRounds int) (*llm.Completion, []llm.Message, error)
}

func (f *fakeCompleter) Complete(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (*llm.Completion, error) {
	return f.completeFn(ctx, messages, tools)
}

func (f *fakeCompleter) RunToolLoop(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec, exec llm.ToolExecutor, maxRounds int) (*llm.Completion, []llm.Message, error) {
	return f.runToolLoopFn(ctx, messages, tools, exec, maxRounds)
}

func completionWithContent(content string) *llm.Completion {
	return &llm.Completion{Message: llm.Message{Role: llm.RoleAssistant, Content: content}}
}
