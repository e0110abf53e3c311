// Package agentrun implements the per-sub-question state machine (spec
// §4.8) and the SubQuestion/Run data shapes it operates on (spec §3). One
// agentrun.Run exists per sub-question inner-run spawned by the Orchestrator
// (spec §4.1 step 3); C8's Router decides the next *agent* within a state,
// this package enforces which *states* a sub-question may legally move
// through and owns its cooperative-cancel flag.
package agentrun

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
)

// tokenEncoding is the cl100k_base encoding used for Message.token_usage
// accounting (spec §3), resolved once and shared across every Run: it is
// close enough across the OpenAI chat-completion model families this
// system targets (spec DOMAIN STACK) that a per-model encoding lookup
// isn't worth the extra round trip.
var tokenEncoding = sync.OnceValue(func() *tiktoken.Tiktoken {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil
	}
	return enc
})

// CountTokens estimates a message's token_usage (spec §3), returning 0 if
// the encoding failed to load rather than failing the Run over an
// accounting detail.
func CountTokens(text string) int {
	enc := tokenEncoding()
	if enc == nil {
		return 0
	}
	return len(enc.Encode(text, nil, nil))
}

// State is one node of the per-sub-question state machine (spec §4.8).
type State string

const (
	StateStart           State = "START"
	StateRewriteConsumed State = "REWRITE_CONSUMED"
	StateCacheCheck      State = "CACHE_CHECK"
	StateSchemaSelecting State = "SCHEMA_SELECTING"
	StateCacheHitWithRows State = "CACHE_HIT_WITH_ROWS"
	StateCacheHitNoRows  State = "CACHE_HIT_NO_ROWS"
	StateSchemasReady    State = "SCHEMAS_READY"
	StateDisambiguating  State = "DISAMBIGUATING"
	StateGenerating      State = "GENERATING"
	StateCorrecting      State = "CORRECTING"
	StateExecuting       State = "EXECUTING"
	StateAnswering       State = "ANSWERING"
	StateTerminal        State = "TERMINAL"
)

// Outcome is the terminal classification of a finished sub-question (spec
// §4.8: "Terminal: TERMINAL with outcome ∈ {answered, clarification_needed, error}").
type Outcome string

const (
	OutcomeAnswered             Outcome = "answered"
	OutcomeClarificationNeeded  Outcome = "clarification_needed"
	OutcomeError                Outcome = "error"
)

// Status is the SubQuestion.status field of spec §3's data model.
type Status string

const (
	StatusPending               Status = "pending"
	StatusRunning                Status = "running"
	StatusAwaitingClarification  Status = "awaiting_clarification"
	StatusSucceeded              Status = "succeeded"
	StatusFailed                 Status = "failed"
)

// transitions enumerates every legal State -> State move. Some states admit
// more than one successor because the coarse chain spec §4.8 documents
// collapses choices C8's Router makes at finer grain (e.g. a cache hit with
// pre-run rows can go straight to CORRECTING, skipping GENERATING, per the
// §4.2 decision table row "cache hit ∧ pre_run present → correction").
var transitions = map[State][]State{
	StateStart:            {StateRewriteConsumed},
	StateRewriteConsumed:  {StateCacheCheck, StateSchemaSelecting},
	StateCacheCheck:       {StateCacheHitWithRows, StateCacheHitNoRows, StateSchemaSelecting},
	StateSchemaSelecting:  {StateSchemasReady, StateDisambiguating},
	StateCacheHitWithRows: {StateCorrecting, StateGenerating},
	StateCacheHitNoRows:   {StateGenerating},
	StateSchemasReady:     {StateGenerating},
	StateDisambiguating:   {StateGenerating, StateTerminal},
	StateGenerating:       {StateCorrecting},
	StateCorrecting:       {StateExecuting, StateTerminal},
	StateExecuting:        {StateCorrecting, StateAnswering, StateTerminal},
	StateAnswering:        {StateTerminal},
}

// SubQuestion is one node of a Run's decomposition_rounds (spec §3).
type SubQuestion struct {
	ID           string
	Text         string
	RoundIndex   int
	ParentID     string
	ResolvedSQL  string
	ResolvedRows any // *connector.ExecuteResult once a sub-run executes
	Status       Status
	State        State
	Outcome      Outcome
	Error        string
}

// Run drives one sub-question's state machine and owns its cooperative
// cancel flag (spec §5: "a Run-scoped cancel flag is checked between
// messages").
type Run struct {
	SubQuestion *SubQuestion
	StartedAt   time.Time
	TokensUsed  int

	mu        sync.Mutex
	cancelled bool
}

// RecordMessage accumulates content's estimated token_usage onto the Run's
// running total (spec §3 Message.token_usage, Run.message_count budget) and
// returns the per-message count so the caller can attach it to the message
// it just appended to the agent_thread.
func (r *Run) RecordMessage(content string) int {
	n := CountTokens(content)
	r.mu.Lock()
	r.TokensUsed += n
	r.mu.Unlock()
	return n
}

// NewRun creates a Run for a freshly decomposed sub-question, in StateStart
// with StatusPending.
func NewRun(sq *SubQuestion) *Run {
	sq.State = StateStart
	sq.Status = StatusPending
	return &Run{SubQuestion: sq, StartedAt: time.Now()}
}

// Transition moves the sub-question to next if legal, returning an error
// otherwise. The router decides next; this only enforces the state graph.
func (r *Run) Transition(next State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.SubQuestion.State
	for _, allowed := range transitions[current] {
		if allowed == next {
			r.SubQuestion.State = next
			return nil
		}
	}
	return fmt.Errorf("agentrun: illegal transition %s -> %s", current, next)
}

// Finish marks the sub-question TERMINAL with outcome, setting Status to
// match (spec §4.8 terminal outcomes map onto spec §3 SubQuestion statuses).
// OutcomeError ends the sub-question from any non-terminal state (a failure
// or a cooperative cancel can happen at any step); other outcomes must follow
// the transitions graph.
func (r *Run) Finish(outcome Outcome, errMsg string) error {
	if err := r.Transition(StateTerminal); err != nil {
		if outcome != OutcomeError {
			return err
		}
		r.mu.Lock()
		alreadyTerminal := r.SubQuestion.State == StateTerminal
		if !alreadyTerminal {
			r.SubQuestion.State = StateTerminal
		}
		r.mu.Unlock()
		if alreadyTerminal {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SubQuestion.Outcome = outcome
	r.SubQuestion.Error = errMsg
	switch outcome {
	case OutcomeAnswered:
		r.SubQuestion.Status = StatusSucceeded
	case OutcomeClarificationNeeded:
		r.SubQuestion.Status = StatusAwaitingClarification
	case OutcomeError:
		r.SubQuestion.Status = StatusFailed
	}
	return nil
}

// Cancel requests cooperative cancellation. It does not itself transition
// the state machine; callers check Cancelled() between suspension points
// (spec §5: "checked between messages") and call Finish(OutcomeError,
// "cancelled") once they observe it. The orchestrator calls Cancel on every
// sibling Run in a round as soon as one sub-question errors, ahead of the
// errgroup-derived context cancellation that interrupts any blocking call
// already in flight (internal/orchestrator.runRound) — Cancelled() is what
// lets a sub-question between messages notice without waiting on that ctx.
func (r *Run) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = true
}

// Cancelled reports whether Cancel has been called.
func (r *Run) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}
