// Package orchestrator implements the C9 Run loop (spec §4.1): resume or
// create a Run, invoke Query Rewrite once, fan the resulting rounds of
// sub-questions out through the per-sub-question state machine
// (internal/agentrun) bounded by max_parallel_subquestions, assemble the
// final answer, and clear the State Store. Round/sub-question fan-out uses
// golang.org/x/sync/errgroup with SetLimit, the same concurrency-cap idiom
// the teacher's flow.Batch.runN uses (flow/batch.go), generalized here from
// a single generic segment processor to the five-agent sub-question
// pipeline this spec requires.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/text2sql/orchestrator/internal/agent"
	"github.com/text2sql/orchestrator/internal/agentrun"
	"github.com/text2sql/orchestrator/internal/cache"
	"github.com/text2sql/orchestrator/internal/config"
	"github.com/text2sql/orchestrator/internal/connector"
	"github.com/text2sql/orchestrator/internal/llm"
	"github.com/text2sql/orchestrator/internal/payload"
	"github.com/text2sql/orchestrator/internal/prompt"
	"github.com/text2sql/orchestrator/internal/router"
	"github.com/text2sql/orchestrator/internal/state"
	"github.com/text2sql/orchestrator/internal/tool"
)

// Deps bundles every component (spec §2 C1-C13) the Orchestrator wires
// together. Cache may be nil when config.UseQueryCache is false.
type Deps struct {
	LLM       agent.Completer
	Tools     *tool.Registry
	Prompts   *prompt.Loader
	Cache     *cache.Cache
	Store     *state.Store
	Connector connector.Connector
	Config    *config.Config
	Log       *logrus.Entry
}

func (d Deps) logger() *logrus.Entry {
	if d.Log == nil {
		return logrus.NewEntry(logrus.New())
	}
	return d.Log
}

// Orchestrator is the C9 component.
type Orchestrator struct {
	deps Deps
}

// New builds an Orchestrator from validated Deps.
func New(deps Deps) (*Orchestrator, error) {
	if deps.LLM == nil {
		return nil, fmt.Errorf("orchestrator: llm completer is required")
	}
	if deps.Tools == nil {
		return nil, fmt.Errorf("orchestrator: tool registry is required")
	}
	if deps.Prompts == nil {
		return nil, fmt.Errorf("orchestrator: prompt loader is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("orchestrator: state store is required")
	}
	if deps.Connector == nil {
		return nil, fmt.Errorf("orchestrator: connector is required")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("orchestrator: config is required")
	}
	if deps.Config.UseQueryCache && deps.Cache == nil {
		return nil, fmt.Errorf("orchestrator: config enables the query cache but no cache was wired")
	}
	return &Orchestrator{deps: deps}, nil
}

// ProcessUserMessage runs spec §4.1's algorithm for one inbound message on
// threadID, emitting every outbound payload through the returned Stream. The
// Stream is closed once a terminal payload (answer, disambiguation, or
// error) has been written. Processing happens on a background goroutine so
// the caller can start reading immediately (spec §6.1: "a lazy sequence of
// outbound payloads").
func (o *Orchestrator) ProcessUserMessage(ctx context.Context, threadID string, in payload.UserMessagePayload) *payload.Stream {
	stream := payload.NewStream(8)
	runCtx, cancel := context.WithTimeout(ctx, o.deps.Config.RunTimeout)

	go func() {
		defer cancel()
		defer stream.Close()
		o.run(runCtx, stream, threadID, in)
	}()

	return stream
}

// vars builds the C12 prompt placeholders fixed for the lifetime of one Run.
func (o *Orchestrator) vars(now time.Time) prompt.Vars {
	cfg := o.deps.Config
	return prompt.Vars{
		UseCase:             cfg.UseCase,
		TargetEngine:        cfg.TargetEngine,
		EngineSpecificRules: cfg.EngineSpecificRules,
		RowLimit:            cfg.RowLimit,
		CurrentDateTime:     now.UTC().Format(time.RFC3339),
	}
}

func (o *Orchestrator) run(ctx context.Context, stream *payload.Stream, threadID string, in payload.UserMessagePayload) {
	log := o.logger(threadID)
	cfg := o.deps.Config
	now := time.Now()
	vars := o.vars(now)

	o.registerRunScopedTools(now)

	// spec §4.1 step 1: resume an existing Run's agent thread, or start a
	// fresh one from the chat_history plus new user_message.
	history := o.resumeOrSeedHistory(threadID, in)

	rewriteAgent, err := agent.NewQueryRewrite(agent.Deps{LLM: o.deps.LLM, Prompts: o.deps.Prompts, Log: log}, vars, cfg.UseQueryCache)
	if err != nil {
		o.emitError(ctx, stream, "internal_error", "failed to build query rewrite agent", err)
		return
	}

	thread := &agent.Thread{Messages: history}
	rewriteResult, err := rewriteAgent.Run(ctx, thread, o.deps.Tools)
	if err != nil {
		o.emitError(ctx, stream, "generation_failure", "query rewrite failed", err)
		return
	}
	rewriteResult.Message.TokenUsage = agentrun.CountTokens(rewriteResult.Message.Content)
	thread.Append(rewriteResult.Message)

	decomposition, ok := rewriteResult.Structured.(*agent.RewriteDecomposition)
	if !ok {
		o.emitError(ctx, stream, "internal_error", "query rewrite returned no decomposition", nil)
		return
	}

	if decomposition.AllNonDatabaseQuery || len(decomposition.DecomposedUserMessages) == 0 {
		o.deps.Store.Clear(threadID)
		stream.Write(ctx, payload.Event{
			AnswerWithSources: &payload.AnswerWithSources{Answer: rewriteResult.Message.Content},
			Terminal:          true,
			EmittedAt:         time.Now(),
		})
		return
	}

	var sources []agent.SourceTuple
	for roundIndex, roundQuestions := range decomposition.DecomposedUserMessages {
		stream.Write(ctx, payload.Event{
			ProcessingUpdate: &payload.ProcessingUpdate{Message: fmt.Sprintf("running round %d of %d", roundIndex+1, len(decomposition.DecomposedUserMessages))},
			EmittedAt:        time.Now(),
		})

		roundSources, disambiguation, err := o.runRound(ctx, log, vars, threadID, roundIndex, roundQuestions, now)
		if err != nil {
			o.persistSuspension(threadID, roundIndex, thread)
			o.emitError(ctx, stream, "connector_error", fmt.Sprintf("round %d failed", roundIndex), err)
			return
		}
		if disambiguation != nil {
			o.persistSuspension(threadID, roundIndex, thread)
			stream.Write(ctx, payload.Event{Disambiguation: disambiguation, Terminal: true, EmittedAt: time.Now()})
			return
		}
		sources = append(sources, roundSources...)
	}

	answerAgent, err := agent.NewAnswer(agent.Deps{LLM: o.deps.LLM, Prompts: o.deps.Prompts, Log: log}, vars, decomposition.CombinationLogic, sources, cfg.GenerateFollowUpSuggestions)
	if err != nil {
		o.emitError(ctx, stream, "internal_error", "failed to build answer agent", err)
		return
	}
	answerResult, err := answerAgent.Run(ctx, &agent.Thread{}, o.deps.Tools)
	if err != nil {
		o.emitError(ctx, stream, "generation_failure", "answer assembly failed", err)
		return
	}

	o.writeThroughCache(ctx, decomposition, sources)
	o.deps.Store.Clear(threadID)

	answer, _ := answerResult.Structured.(*payload.AnswerWithSources)
	stream.Write(ctx, payload.Event{AnswerWithSources: answer, Terminal: true, EmittedAt: time.Now()})
}

// runRound fans the round's sub-questions out concurrently, bounded by
// config.MaxParallelSubquestions, and joins their results in the original
// index order (spec §5 ordering guarantee for the final Answer agent,
// grounded on flow.Batch.runN's order-preserving errgroup pattern).
func (o *Orchestrator) runRound(ctx context.Context, log *logrus.Entry, vars prompt.Vars, threadID string, roundIndex int, questions []string, runStartedAt time.Time) ([]agent.SourceTuple, *payload.Disambiguation, error) {
	ordered := make([]*agent.SourceTuple, len(questions))
	disambiguations := make([]*payload.Disambiguation, len(questions))

	runs := make([]*agentrun.Run, len(questions))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.deps.Config.MaxParallelSubquestions)

	for i, text := range questions {
		i, text := i, text
		sq := &agentrun.SubQuestion{ID: uuid.NewString(), Text: text, RoundIndex: roundIndex}
		run := agentrun.NewRun(sq)
		runs[i] = run
		group.Go(func() error {
			source, disambiguation, err := o.runSubQuestion(groupCtx, log, vars, run, runStartedAt)
			if err != nil {
				// Cancel() is the cooperative signal siblings poll between
				// messages (spec §5); errgroup cancels groupCtx once this
				// closure returns the error, which is what actually
				// interrupts any blocking LLM/tool call in progress.
				for _, sibling := range runs {
					if sibling != nil && sibling != run {
						sibling.Cancel()
					}
				}
				return err
			}
			if disambiguation != nil {
				disambiguations[i] = disambiguation
				return nil
			}
			ordered[i] = source
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, nil, err
	}

	for _, d := range disambiguations {
		if d != nil {
			return nil, d, nil
		}
	}

	sources := make([]agent.SourceTuple, 0, len(ordered))
	for _, s := range ordered {
		if s != nil {
			sources = append(sources, *s)
		}
	}
	return sources, nil, nil
}

// runSubQuestion drives one sub-question through the per-sub-question state
// machine (internal/agentrun), with the C8 Router (internal/router) as the
// single source of truth for which agent runs next at each step.
func (o *Orchestrator) runSubQuestion(ctx context.Context, log *logrus.Entry, vars prompt.Vars, run *agentrun.Run, runStartedAt time.Time) (*agent.SourceTuple, *payload.Disambiguation, error) {
	cfg := o.deps.Config
	sq := run.SubQuestion
	o.transition(run, agentrun.StateRewriteConsumed)
	thread := &agent.Thread{Messages: []llm.Message{{Role: llm.RoleUser, Content: sq.Text}}}
	adeps := agent.Deps{LLM: o.deps.LLM, Prompts: o.deps.Prompts, Log: log}

	rs := router.RunState{
		LastMessageSource: router.AgentQueryRewrite, // this sub-question was just handed off by Query Rewrite
		UseQueryCache:     cfg.UseQueryCache,
		MaxMessages:       cfg.MaxMessages,
	}

	var (
		entitiesJSON    []json.RawMessage
		lastSQL         string
		lastExecErr     string
		source          agent.SourceTuple
		pendingQuestion *agent.DisambiguationOutcome
	)

	for rs.MessageCount = 0; rs.MessageCount < cfg.MaxMessages; rs.MessageCount++ {
		if run.Cancelled() {
			run.Finish(agentrun.OutcomeError, "cancelled")
			return nil, nil, fmt.Errorf("orchestrator: sub-question %s cancelled", sq.ID)
		}

		next := router.SelectNextAgent(rs)
		switch next {

		case router.AgentCache:
			o.transition(run, agentrun.StateCacheCheck)
			hit, err := o.deps.Cache.Lookup(ctx, sq.Text, nil)
			if err != nil {
				run.Finish(agentrun.OutcomeError, err.Error())
				return nil, nil, err
			}
			rs.LastMessageSource = router.AgentCache
			rs.CacheHit = hit.Kind != cache.Miss
			rs.CachePreRunPresent = hit.Kind == cache.HitWithPreRunRows
			if rs.CacheHit {
				lastSQL = hit.Entry.SQLTemplate
				o.transition(run, stateForCacheHit(rs.CachePreRunPresent))
				if rs.CachePreRunPresent && hit.Entry.PreRunRows != nil {
					source.Rows = &connector.ExecuteResult{Columns: hit.Entry.PreRunRows.Columns, Rows: hit.Entry.PreRunRows.Values}
				}
			} else {
				o.transition(run, agentrun.StateSchemaSelecting)
			}

		case router.AgentSchemaSelection:
			if sq.State != agentrun.StateSchemaSelecting {
				o.transition(run, agentrun.StateSchemaSelecting)
			}
			a, err := agent.NewSchemaSelection(adeps, vars, sq.Text, cfg.MaxGenerationValidationRetries+1)
			if err != nil {
				run.Finish(agentrun.OutcomeError, err.Error())
				return nil, nil, err
			}
			result, err := a.Run(ctx, thread, o.deps.Tools)
			if err != nil {
				run.Finish(agentrun.OutcomeError, err.Error())
				return nil, nil, err
			}
			result.Message.TokenUsage = run.RecordMessage(result.Message.Content)
			thread.Append(result.Message)
			outcome := result.Structured.(*agent.SchemaSelectionOutcome)
			entitiesJSON = outcome.EntitiesJSON
			rs.LastMessageSource = router.AgentSchemaSelection
			rs.DisambiguationNeeded = outcome.Ambiguous
			if outcome.Ambiguous {
				o.transition(run, agentrun.StateDisambiguating)
			} else {
				o.transition(run, agentrun.StateSchemasReady)
			}

		case router.AgentDisambiguation:
			a, err := agent.NewDisambiguation(adeps, vars, sq.Text, entitiesJSON)
			if err != nil {
				run.Finish(agentrun.OutcomeError, err.Error())
				return nil, nil, err
			}
			result, err := a.Run(ctx, thread, o.deps.Tools)
			if err != nil {
				run.Finish(agentrun.OutcomeError, err.Error())
				return nil, nil, err
			}
			result.Message.TokenUsage = run.RecordMessage(result.Message.Content)
			thread.Append(result.Message)
			outcome := result.Structured.(*agent.DisambiguationOutcome)
			rs.LastMessageSource = router.AgentDisambiguation
			if outcome.NeedsUserResponse() {
				rs.UserResponsePending = true
				pendingQuestion = outcome
				continue
			}
			rs.UserResponsePending = false
			o.transition(run, agentrun.StateGenerating)

		case router.AgentGeneration:
			if sq.State != agentrun.StateGenerating {
				o.transition(run, agentrun.StateGenerating)
			}
			a, err := agent.NewGeneration(adeps, vars, cfg.TargetEngine, cfg.MaxGenerationValidationRetries+1)
			if err != nil {
				run.Finish(agentrun.OutcomeError, err.Error())
				return nil, nil, err
			}
			result, err := a.Run(ctx, thread, o.deps.Tools)
			if err != nil {
				run.Finish(agentrun.OutcomeError, err.Error())
				return nil, nil, err
			}
			result.Message.TokenUsage = run.RecordMessage(result.Message.Content)
			thread.Append(result.Message)
			outcome := result.Structured.(*agent.GenerationOutcome)
			lastSQL = outcome.SQL
			rs.LastMessageSource = router.AgentGeneration
			rs.Validated = outcome.Validated
			o.transition(run, agentrun.StateCorrecting)

		case router.AgentCorrection:
			if sq.State != agentrun.StateCorrecting {
				o.transition(run, agentrun.StateCorrecting)
			}
			a, err := agent.NewCorrection(adeps, vars, lastSQL, lastExecErr, cfg.MaxCorrectionAttempts)
			if err != nil {
				run.Finish(agentrun.OutcomeError, err.Error())
				return nil, nil, err
			}
			result, err := a.Run(ctx, thread, o.deps.Tools)
			if err != nil {
				run.Finish(agentrun.OutcomeError, err.Error())
				return nil, nil, err
			}
			result.Message.TokenUsage = run.RecordMessage(result.Message.Content)
			thread.Append(result.Message)
			outcome := result.Structured.(*agent.CorrectionOutcome)
			rs.LastMessageSource = router.AgentCorrection
			if outcome.Unrecoverable() {
				run.Finish(agentrun.OutcomeError, outcome.Details)
				source.SQL = lastSQL
				source.Error = outcome.Details
				return &source, nil, nil
			}
			if outcome.CorrectedQuery != "" {
				lastSQL = outcome.CorrectedQuery
			}
			rs.Validated = outcome.Validated

			if rs.Validated || outcome.Executing {
				o.transition(run, agentrun.StateExecuting)
				execResult, err := o.deps.Connector.ExecuteSelect(ctx, lastSQL, cfg.RowLimit)
				if err != nil {
					lastExecErr = err.Error()
					rs.Validated = false
				} else {
					source.Rows = execResult
					lastExecErr = ""
					rs.Validated = true
				}
			}

		case router.AgentAnswer:
			o.transition(run, agentrun.StateAnswering)
			source.SQL = lastSQL
			run.Finish(agentrun.OutcomeAnswered, "")
			return &source, nil, nil

		case router.AgentSuspend:
			run.Finish(agentrun.OutcomeClarificationNeeded, "")
			return nil, disambiguationPayload(pendingQuestion), nil

		default: // router.AgentTerminate or an unrecognized hint
			run.Finish(agentrun.OutcomeError, "terminated")
			source.SQL = lastSQL
			source.Error = "sub-question terminated without an answer"
			return &source, nil, nil
		}
	}

	run.Finish(agentrun.OutcomeError, "exceeded max_messages")
	return nil, nil, fmt.Errorf("orchestrator: sub-question %s exceeded max_messages", sq.ID)
}

// transition applies an agentrun.State move, logging (not failing) on a
// rejection: the state graph is a consistency aid for observability, not a
// gate on the Router's authority to pick the next agent.
func (o *Orchestrator) transition(run *agentrun.Run, next agentrun.State) {
	if err := run.Transition(next); err != nil {
		o.deps.logger().WithError(err).Warn("agentrun: unexpected state transition")
	}
}

func stateForCacheHit(preRunPresent bool) agentrun.State {
	if preRunPresent {
		return agentrun.StateCacheHitWithRows
	}
	return agentrun.StateCacheHitNoRows
}

func disambiguationPayload(outcome *agent.DisambiguationOutcome) *payload.Disambiguation {
	questions := make([]payload.DisambiguationQuestion, 0, len(outcome.Disambiguation))
	for _, q := range outcome.Disambiguation {
		choices := append(append([]string{}, q.MatchingColumns...), q.MatchingFilterValues...)
		choices = append(choices, q.OtherUserChoices...)
		questions = append(questions, payload.DisambiguationQuestion{Text: q.Question, Choices: choices})
	}
	return &payload.Disambiguation{Questions: questions}
}

// resumeOrSeedHistory loads a suspended agent_thread from the State Store
// (spec §4.1 step 1: "If an entry exists... resume"), falling back to the
// caller-supplied chat_history plus the new user_message for a fresh Run.
func (o *Orchestrator) resumeOrSeedHistory(threadID string, in payload.UserMessagePayload) []llm.Message {
	messages := make([]llm.Message, 0, len(in.ChatHistory)+1)

	if env, err := o.deps.Store.Load(threadID); err == nil {
		var resumed []llm.Message
		if json.Unmarshal(env.SerializedAgentThreads, &resumed) == nil {
			messages = append(messages, resumed...)
		}
	} else {
		for _, turn := range in.ChatHistory {
			messages = append(messages, llm.Message{Role: llm.Role(turn.Role), Content: turn.Content})
		}
	}

	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: in.UserMessage})
	return messages
}

// persistSuspension snapshots the Run's Query Rewrite thread and the round
// index into the State Store (spec §4.1 step 3, §6.5). On the next
// process_user_message for this thread, resumeOrSeedHistory uses the stored
// messages as history and Query Rewrite runs again over them; the
// decomposition, round progress and sub-question threads are not stored or
// restored.
func (o *Orchestrator) persistSuspension(threadID string, roundIndex int, thread *agent.Thread) {
	serialized, err := json.Marshal(thread.Messages)
	if err != nil {
		o.deps.logger().WithError(err).Warn("orchestrator: failed to serialize agent thread for suspension")
		return
	}
	if err := o.deps.Store.Save(&state.Envelope{
		ThreadID:               threadID,
		SerializedAgentThreads: serialized,
		CurrentRound:           roundIndex,
		CreatedAt:              time.Now().UTC(),
	}); err != nil {
		o.deps.logger().WithError(err).Warn("orchestrator: failed to persist suspension state")
	}
}

// writeThroughCache applies the query cache's write-through policy (spec
// §4.10) for every successfully generated sub-question, non-fatally on
// failure.
func (o *Orchestrator) writeThroughCache(ctx context.Context, decomposition *agent.RewriteDecomposition, sources []agent.SourceTuple) {
	if o.deps.Cache == nil || !o.deps.Cache.ShouldWrite(false) {
		return
	}
	questions := flatten(decomposition.DecomposedUserMessages)
	for i, s := range sources {
		if s.Error != "" || i >= len(questions) {
			continue
		}
		if err := o.deps.Cache.Write(ctx, questions[i], s.SQL, nil); err != nil {
			o.deps.logger().WithError(err).Warn("orchestrator: cache write-through failed")
		}
	}
}

func flatten(rounds [][]string) []string {
	var out []string
	for _, r := range rounds {
		out = append(out, r...)
	}
	return out
}

// registerRunScopedTools wires the current_datetime tool, whose answer is
// fixed for the lifetime of one Run (spec §4.9: "deterministic per Run").
func (o *Orchestrator) registerRunScopedTools(runStartedAt time.Time) {
	t, err := tool.NewCurrentDateTime(runStartedAt)
	if err != nil {
		return
	}
	o.deps.Tools.Register(t)
}

func (o *Orchestrator) logger(threadID string) *logrus.Entry {
	return o.deps.logger().WithField("thread_id", threadID)
}

func (o *Orchestrator) emitError(ctx context.Context, stream *payload.Stream, code, message string, cause error) {
	if cause != nil {
		message = fmt.Sprintf("%s: %v", message, cause)
	}
	stream.Write(ctx, payload.Event{
		Error:     &payload.Error{Code: code, Message: message},
		Terminal:  true,
		EmittedAt: time.Now(),
	})
}
