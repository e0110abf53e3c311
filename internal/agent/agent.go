// Package agent implements the C7 Agents (spec §4.3-§4.7): query rewrite,
// schema selection, disambiguation, SQL generation, SQL correction, and
// answer assembly. Per spec §9 design notes ("Agents should be modelled as
// tagged variants over a common capability set {run(thread, tools) →
// (message, next_hint)} rather than deep inheritance"), every agent is the
// same Agent struct tagged with a Kind and closing over a RunFunc, not six
// distinct types implementing a shared interface.
package agent

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/text2sql/orchestrator/internal/llm"
	"github.com/text2sql/orchestrator/internal/prompt"
	"github.com/text2sql/orchestrator/internal/router"
	"github.com/text2sql/orchestrator/internal/tool"
)

// Completer is the subset of *llm.Client every agent depends on, narrowed to
// an interface so tests can substitute a scripted fake instead of a real
// OpenAI client (teacher idiom: ai/client/chat accepts a Caller interface,
// not a concrete provider type).
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (*llm.Completion, error)
	RunToolLoop(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec, exec llm.ToolExecutor, maxRounds int) (*llm.Completion, []llm.Message, error)
}

// Deps are the dependencies shared by every agent constructor.
type Deps struct {
	LLM     Completer
	Prompts *prompt.Loader
	Log     *logrus.Entry
}

func (d Deps) logger() *logrus.Entry {
	if d.Log == nil {
		return logrus.NewEntry(logrus.New())
	}
	return d.Log
}

// Kind tags which of the six C7 roles an Agent plays.
type Kind string

const (
	KindQueryRewrite    Kind = "query_rewrite"
	KindSchemaSelection Kind = "schema_selection"
	KindDisambiguation  Kind = "disambiguation"
	KindGeneration      Kind = "generation"
	KindCorrection      Kind = "correction"
	KindAnswer          Kind = "answer"
)

// Thread is one sub-run's ordered agent_thread (spec §3 Run.agent_thread:
// "Message... Append-only within a Run").
type Thread struct {
	Messages []llm.Message
}

// Append adds a message to the thread.
func (t *Thread) Append(m llm.Message) {
	t.Messages = append(t.Messages, m)
}

// Result is the common {message, next_hint} shape spec §9 names. NextHint is
// advisory: router.SelectNextAgent over the caller's assembled RunState
// remains the single source of routing truth. Structured carries the
// agent-specific parsed JSON payload (e.g. *RewriteDecomposition,
// *DisambiguationOutcome) for callers that need more than the raw message.
type Result struct {
	Message    llm.Message
	NextHint   router.Agent
	Structured any
}

// RunFunc is the capability every tagged Agent variant implements.
type RunFunc func(ctx context.Context, thread *Thread, tools *tool.Registry) (*Result, error)

// Agent is one tagged variant: a Kind plus the closure that implements it.
type Agent struct {
	Kind Kind
	run  RunFunc
}

// Run executes the agent's turn.
func (a *Agent) Run(ctx context.Context, thread *Thread, tools *tool.Registry) (*Result, error) {
	return a.run(ctx, thread, tools)
}
