package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/text2sql/orchestrator/internal/config"
	"github.com/text2sql/orchestrator/internal/connector"
	"github.com/text2sql/orchestrator/internal/llm"
	"github.com/text2sql/orchestrator/internal/payload"
	"github.com/text2sql/orchestrator/internal/prompt"
	"github.com/text2sql/orchestrator/internal/state"
	"github.com/text2sql/orchestrator/internal/tool"
)

// happyPathCompleter scripts the exact sequence of Complete/RunToolLoop
// calls one sub-question takes through cache-disabled schema selection,
// generation, and correction, keyed on per-method call counts (unlike
// internal/agent's tests, whose fakeCompleter takes per-test closures).
type happyPathCompleter struct {
	completeCalls int32
	toolLoopCalls int32
}

func (c *happyPathCompleter) Complete(_ context.Context, _ []llm.Message, _ []llm.ToolSpec) (*llm.Completion, error) {
	switch atomic.AddInt32(&c.completeCalls, 1) {
	case 1: // query rewrite
		return &llm.Completion{Message: llm.Message{Role: llm.RoleAssistant, Content: `{
			"decomposed_user_messages": [["how many orders closed last week"]],
			"combination_logic": "single sub-question, no combination needed",
			"all_non_database_query": false
		}`}}, nil
	case 2: // answer
		return &llm.Completion{Message: llm.Message{Role: llm.RoleAssistant, Content: `{"answer":"There were 42 orders."}`}}, nil
	default:
		return nil, fmt.Errorf("happyPathCompleter: unexpected Complete call %d", c.completeCalls)
	}
}

func (c *happyPathCompleter) RunToolLoop(_ context.Context, messages []llm.Message, _ []llm.ToolSpec, _ llm.ToolExecutor, _ int) (*llm.Completion, []llm.Message, error) {
	switch atomic.AddInt32(&c.toolLoopCalls, 1) {
	case 1: // schema selection
		history := append(append([]llm.Message{}, messages...), llm.Message{
			Role: llm.RoleTool, Name: "get_entity_schemas", Content: `{"fqn":"warehouse.sales.orders"}`,
		})
		return &llm.Completion{Message: llm.Message{Role: llm.RoleAssistant, Content: `{"ambiguous":false}`}}, history, nil
	case 2: // generation
		return &llm.Completion{Message: llm.Message{Role: llm.RoleAssistant, Content: `{"sql":"SELECT COUNT(*) FROM orders"}`}}, messages, nil
	case 3: // correction
		return &llm.Completion{Message: llm.Message{Role: llm.RoleAssistant, Content: `{"validated":true}`}}, messages, nil
	default:
		return nil, nil, fmt.Errorf("happyPathCompleter: unexpected RunToolLoop call %d", c.toolLoopCalls)
	}
}

// disambiguationCompleter forces schema selection to flag ambiguity and the
// disambiguation agent to request a user response, so the Run must suspend.
type disambiguationCompleter struct {
	completeCalls int32
	toolLoopCalls int32
}

func (c *disambiguationCompleter) Complete(_ context.Context, _ []llm.Message, _ []llm.ToolSpec) (*llm.Completion, error) {
	switch atomic.AddInt32(&c.completeCalls, 1) {
	case 1: // query rewrite
		return &llm.Completion{Message: llm.Message{Role: llm.RoleAssistant, Content: `{
			"decomposed_user_messages": [["which region had the highest churn"]],
			"combination_logic": "single",
			"all_non_database_query": false
		}`}}, nil
	case 2: // disambiguation
		return &llm.Completion{Message: llm.Message{Role: llm.RoleAssistant, Content: `{
			"disambiguation": [{"question":"Which definition of region do you mean?","matching_columns":["sales_region","shipping_region"]}]
		}`}}, nil
	default:
		return nil, fmt.Errorf("disambiguationCompleter: unexpected Complete call %d", c.completeCalls)
	}
}

func (c *disambiguationCompleter) RunToolLoop(_ context.Context, messages []llm.Message, _ []llm.ToolSpec, _ llm.ToolExecutor, _ int) (*llm.Completion, []llm.Message, error) {
	switch atomic.AddInt32(&c.toolLoopCalls, 1) {
	case 1: // schema selection: flags ambiguity, routing to disambiguation
		return &llm.Completion{Message: llm.Message{Role: llm.RoleAssistant, Content: `{"ambiguous":true,"ambiguous_terms":["region"]}`}}, messages, nil
	default:
		return nil, nil, fmt.Errorf("disambiguationCompleter: unexpected RunToolLoop call %d", c.toolLoopCalls)
	}
}

type stubConnector struct{}

func (stubConnector) ExecuteSelect(_ context.Context, _ string, _ int) (*connector.ExecuteResult, error) {
	return &connector.ExecuteResult{Columns: []string{"count"}, Rows: [][]any{{42}}}, nil
}
func (stubConnector) ListTables(context.Context) ([]connector.TableInfo, error) { return nil, nil }
func (stubConnector) SampleValues(context.Context, string, string, string, string, int) ([]string, error) {
	return nil, nil
}
func (stubConnector) Dialect() config.Engine { return config.EngineSQLite }
func (stubConnector) Close() error           { return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{TargetEngine: config.EngineSQLite}
	require.NoError(t, cfg.Validate())
	return cfg
}

func testTools(t *testing.T) *tool.Registry {
	t.Helper()
	validate, err := tool.NewValidateSQL()
	require.NoError(t, err)
	return tool.NewRegistry().Register(validate)
}

func drainStream(t *testing.T, stream *payload.Stream) []payload.Event {
	t.Helper()
	var events []payload.Event
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		e, err := stream.Read(ctx)
		cancel()
		require.NoError(t, err)
		events = append(events, e)
		if e.Terminal {
			return events
		}
	}
}

func TestProcessUserMessage_happyPathEmitsAnswerWithSources(t *testing.T) {
	store := state.NewStore()
	o, err := New(Deps{
		LLM:       &happyPathCompleter{},
		Tools:     testTools(t),
		Prompts:   prompt.NewLoader(nil),
		Store:     store,
		Connector: stubConnector{},
		Config:    testConfig(t),
	})
	require.NoError(t, err)

	stream := o.ProcessUserMessage(context.Background(), "thread-1", payload.UserMessagePayload{
		UserMessage: "how many orders closed last week",
	})

	events := drainStream(t, stream)
	final := events[len(events)-1]

	require.NotNil(t, final.AnswerWithSources)
	require.Equal(t, "There were 42 orders.", final.AnswerWithSources.Answer)
	require.Len(t, final.AnswerWithSources.Sources, 1)
	require.Equal(t, "SELECT COUNT(*) FROM orders", final.AnswerWithSources.Sources[0].SQLQuery)
	require.Empty(t, final.AnswerWithSources.Sources[0].Error)

	// spec §4.1 step 5: a successfully answered Run clears the State Store.
	_, err = store.Load("thread-1")
	require.ErrorIs(t, err, state.ErrNotFound)
}

// nonDatabaseCompleter answers Query Rewrite with an all_non_database_query
// decomposition and never expects any further call.
type nonDatabaseCompleter struct{ completeCalls int32 }

func (c *nonDatabaseCompleter) Complete(_ context.Context, _ []llm.Message, _ []llm.ToolSpec) (*llm.Completion, error) {
	switch atomic.AddInt32(&c.completeCalls, 1) {
	case 1:
		return &llm.Completion{Message: llm.Message{Role: llm.RoleAssistant, Content: `{
			"decomposed_user_messages": [],
			"all_non_database_query": true
		}`}}, nil
	default:
		return nil, fmt.Errorf("nonDatabaseCompleter: unexpected Complete call %d", c.completeCalls)
	}
}

func (c *nonDatabaseCompleter) RunToolLoop(context.Context, []llm.Message, []llm.ToolSpec, llm.ToolExecutor, int) (*llm.Completion, []llm.Message, error) {
	return nil, nil, fmt.Errorf("nonDatabaseCompleter: RunToolLoop must not be called")
}

func TestProcessUserMessage_allNonDatabaseQueryShortCircuits(t *testing.T) {
	store := state.NewStore()
	o, err := New(Deps{
		LLM:       &nonDatabaseCompleter{},
		Tools:     testTools(t),
		Prompts:   prompt.NewLoader(nil),
		Store:     store,
		Connector: stubConnector{},
		Config:    testConfig(t),
	})
	require.NoError(t, err)

	stream := o.ProcessUserMessage(context.Background(), "thread-3", payload.UserMessagePayload{
		UserMessage: "what's the capital of France",
	})

	events := drainStream(t, stream)
	final := events[len(events)-1]

	require.NotNil(t, final.AnswerWithSources)
	require.Empty(t, final.AnswerWithSources.Sources)

	_, err = store.Load("thread-3")
	require.ErrorIs(t, err, state.ErrNotFound)
}

func TestProcessUserMessage_disambiguationSuspendsAndPersistsState(t *testing.T) {
	store := state.NewStore()
	o, err := New(Deps{
		LLM:       &disambiguationCompleter{},
		Tools:     testTools(t),
		Prompts:   prompt.NewLoader(nil),
		Store:     store,
		Connector: stubConnector{},
		Config:    testConfig(t),
	})
	require.NoError(t, err)

	stream := o.ProcessUserMessage(context.Background(), "thread-2", payload.UserMessagePayload{
		UserMessage: "which region had the highest churn",
	})

	events := drainStream(t, stream)
	final := events[len(events)-1]

	require.NotNil(t, final.Disambiguation)
	require.True(t, final.Terminal)
	require.Len(t, final.Disambiguation.Questions, 1)
	require.Equal(t, "Which definition of region do you mean?", final.Disambiguation.Questions[0].Text)
	require.Contains(t, final.Disambiguation.Questions[0].Choices, "sales_region")
	require.Contains(t, final.Disambiguation.Questions[0].Choices, "shipping_region")

	// spec §4.1 step 3 / §6.5: a suspended Run's thread is persisted for
	// the next process_user_message on the same thread to resume.
	env, err := store.Load("thread-2")
	require.NoError(t, err)
	require.NotEmpty(t, env.SerializedAgentThreads)
}

func TestNew_rejectsQueryCacheEnabledWithoutCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.UseQueryCache = true

	_, err := New(Deps{
		LLM:       &happyPathCompleter{},
		Tools:     testTools(t),
		Prompts:   prompt.NewLoader(nil),
		Store:     state.NewStore(),
		Connector: stubConnector{},
		Config:    cfg,
	})
	require.Error(t, err)
}

func TestNew_requiresEveryDependency(t *testing.T) {
	base := Deps{
		LLM:       &happyPathCompleter{},
		Tools:     testTools(t),
		Prompts:   prompt.NewLoader(nil),
		Store:     state.NewStore(),
		Connector: stubConnector{},
		Config:    testConfig(t),
	}

	missingLLM := base
	missingLLM.LLM = nil
	_, err := New(missingLLM)
	require.Error(t, err)

	missingStore := base
	missingStore.Store = nil
	_, err = New(missingStore)
	require.Error(t, err)

	missingConnector := base
	missingConnector.Connector = nil
	_, err = New(missingConnector)
	require.Error(t, err)
}
