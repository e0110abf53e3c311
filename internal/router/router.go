// Package router implements the pure Router (spec §4.2, C8):
// select_next_agent(thread, run_state, config) → agent_id, a side-effect-free
// function of in-memory Run state. No component in this repo calls an LLM,
// a tool, or the State Store from this package.
package router

import "strings"

// Agent identifies one stop in the routing decision table (spec §4.2). Suspend
// is not part of spec §4.2's enumerated agent_id set but is the table's own
// outcome for "disambiguation, user response pending" — kept as a distinct
// value here rather than overloading Terminate, since suspend and terminate
// have different orchestrator-level consequences (spec §4.1 step 3: suspend
// persists the outer Run and waits for another caller message; terminate
// ends it).
type Agent string

const (
	AgentQueryRewrite    Agent = "query_rewrite"
	AgentCache           Agent = "cache"
	AgentSchemaSelection Agent = "schema_selection"
	AgentDisambiguation  Agent = "disambiguation"
	AgentGeneration      Agent = "generation"
	AgentCorrection      Agent = "correction"
	AgentAnswer          Agent = "answer"
	AgentTerminate       Agent = "TERMINATE"
	AgentSuspend         Agent = "SUSPEND"
	AgentUser            Agent = "user"
)

// RunState carries exactly the in-memory facts the decision table (spec
// §4.2) inspects. It is intentionally flat: the router does not walk a
// richer Run/SubQuestion object graph, so that it stays trivially pure and
// testable without constructing one.
type RunState struct {
	LastMessageSource  Agent
	LastMessageContent string

	UseQueryCache          bool
	CacheHit               bool
	CachePreRunPresent     bool
	DisambiguationNeeded   bool
	UserResponsePending    bool
	Validated              bool
	AnswerPresent          bool
	SourcesPresent         bool

	MessageCount int
	MaxMessages  int
}

// SelectNextAgent implements the decision table of spec §4.2.
//
// The termination guard ("content contains literal TERMINATE, or both
// answer and sources present, or message_count >= max_messages") is
// evaluated before the per-source rows even though spec §4.2 lists it last
// in the table: it is a cross-cutting condition on "any" last-message
// source, and every specific-source row would otherwise shadow it since
// each source already has an earlier, more specific match. Checking it
// first is the only reading under which "first match wins" and "any"
// are both literally true (the same order is noted in DESIGN.md's router
// entry).
func SelectNextAgent(s RunState) Agent {
	if strings.Contains(s.LastMessageContent, "TERMINATE") {
		return AgentTerminate
	}
	if s.AnswerPresent && s.SourcesPresent {
		return AgentTerminate
	}
	if s.MaxMessages > 0 && s.MessageCount >= s.MaxMessages {
		return AgentTerminate
	}

	switch s.LastMessageSource {
	case AgentUser:
		return AgentQueryRewrite

	case AgentQueryRewrite:
		if s.UseQueryCache {
			return AgentCache
		}
		return AgentSchemaSelection

	case AgentCache:
		switch {
		case s.CacheHit && s.CachePreRunPresent:
			return AgentCorrection
		case s.CacheHit:
			return AgentGeneration
		default:
			return AgentSchemaSelection
		}

	case AgentSchemaSelection:
		if s.DisambiguationNeeded {
			return AgentDisambiguation
		}
		return AgentGeneration

	case AgentDisambiguation:
		if s.UserResponsePending {
			return AgentSuspend
		}
		return AgentGeneration

	case AgentGeneration:
		return AgentCorrection

	case AgentCorrection:
		if s.Validated {
			return AgentAnswer
		}
		return AgentGeneration

	default:
		return AgentTerminate
	}
}
