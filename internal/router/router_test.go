package router

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectNextAgent_decisionTable(t *testing.T) {
	cases := []struct {
		name  string
		state RunState
		want  Agent
	}{
		{"user entry", RunState{LastMessageSource: AgentUser}, AgentQueryRewrite},
		{"rewrite with cache enabled", RunState{LastMessageSource: AgentQueryRewrite, UseQueryCache: true}, AgentCache},
		{"rewrite with cache disabled", RunState{LastMessageSource: AgentQueryRewrite, UseQueryCache: false}, AgentSchemaSelection},
		{"cache hit with pre-run", RunState{LastMessageSource: AgentCache, CacheHit: true, CachePreRunPresent: true}, AgentCorrection},
		{"cache hit without pre-run", RunState{LastMessageSource: AgentCache, CacheHit: true}, AgentGeneration},
		{"cache miss", RunState{LastMessageSource: AgentCache}, AgentSchemaSelection},
		{"schema selection no ambiguity", RunState{LastMessageSource: AgentSchemaSelection}, AgentGeneration},
		{"schema selection ambiguous", RunState{LastMessageSource: AgentSchemaSelection, DisambiguationNeeded: true}, AgentDisambiguation},
		{"disambiguation pending reply", RunState{LastMessageSource: AgentDisambiguation, UserResponsePending: true}, AgentSuspend},
		{"disambiguation resolved", RunState{LastMessageSource: AgentDisambiguation}, AgentGeneration},
		{"generation always to correction", RunState{LastMessageSource: AgentGeneration}, AgentCorrection},
		{"correction validated", RunState{LastMessageSource: AgentCorrection, Validated: true}, AgentAnswer},
		{"correction needs another pass", RunState{LastMessageSource: AgentCorrection}, AgentGeneration},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, SelectNextAgent(tc.state))
		})
	}
}

func TestSelectNextAgent_terminatesOnLiteralToken(t *testing.T) {
	got := SelectNextAgent(RunState{LastMessageSource: AgentGeneration, LastMessageContent: "please TERMINATE now"})
	require.Equal(t, AgentTerminate, got)
}

func TestSelectNextAgent_terminatesOnAnswerAndSourcesPresent(t *testing.T) {
	got := SelectNextAgent(RunState{LastMessageSource: AgentAnswer, AnswerPresent: true, SourcesPresent: true})
	require.Equal(t, AgentTerminate, got)
}

func TestSelectNextAgent_terminatesOnMaxMessages(t *testing.T) {
	got := SelectNextAgent(RunState{LastMessageSource: AgentGeneration, MessageCount: 20, MaxMessages: 20})
	require.Equal(t, AgentTerminate, got)
}

func TestSelectNextAgent_unknownSourceTerminates(t *testing.T) {
	got := SelectNextAgent(RunState{LastMessageSource: Agent("unknown")})
	require.Equal(t, AgentTerminate, got)
}
