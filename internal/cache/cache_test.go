package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/text2sql/orchestrator/internal/config"
)

type stubSearcher struct {
	results []SearchResult
}

func (s *stubSearcher) SearchCache(_ context.Context, _ string, _ int) ([]SearchResult, error) {
	return s.results, nil
}

type stubExecutor struct {
	rows *Rows
	err  error
}

func (s *stubExecutor) ExecuteSelect(_ context.Context, _ string, _ int) (*Rows, error) {
	return s.rows, s.err
}

func TestLookup_belowThresholdIsMiss(t *testing.T) {
	c, err := New(&Config{
		Searcher: &stubSearcher{results: []SearchResult{{Entry: &Entry{SQLTemplate: "SELECT 1"}, Score: 0.5}}},
		Executor: &stubExecutor{rows: &Rows{}},
	})
	require.NoError(t, err)

	hit, err := c.Lookup(context.Background(), "how many orders", nil)
	require.NoError(t, err)
	require.Equal(t, Miss, hit.Kind)
}

func TestLookup_preRunSuccess(t *testing.T) {
	c, err := New(&Config{
		Searcher:  &stubSearcher{results: []SearchResult{{Entry: &Entry{SQLTemplate: "SELECT COUNT(*) FROM t WHERE d = '{{ date }}'"}, Score: 0.95}}},
		Executor:  &stubExecutor{rows: &Rows{Columns: []string{"c"}, Values: [][]any{{1}}}},
		PreRun:    true,
		Threshold: 0.85,
	})
	require.NoError(t, err)

	hit, err := c.Lookup(context.Background(), "orders today", nil)
	require.NoError(t, err)
	require.Equal(t, HitWithPreRunRows, hit.Kind)
	require.NotNil(t, hit.Entry.PreRunRows)
}

func TestLookup_preRunExecutionErrorDemotesHit(t *testing.T) {
	c, err := New(&Config{
		Searcher:  &stubSearcher{results: []SearchResult{{Entry: &Entry{SQLTemplate: "SELECT 1"}, Score: 0.95}}},
		Executor:  &stubExecutor{err: errBoom},
		PreRun:    true,
		Threshold: 0.85,
	})
	require.NoError(t, err)

	hit, err := c.Lookup(context.Background(), "orders today", nil)
	require.NoError(t, err)
	require.Equal(t, HitWithoutPreRunRows, hit.Kind)
}

func TestRender_placeholdersAndParams(t *testing.T) {
	out, err := Render("SELECT * FROM t WHERE user_id = {{ user_id }} AND d >= '{{ date }}'", map[string]any{"user_id": 42})
	require.NoError(t, err)
	require.Contains(t, out, "user_id = 42")
}

func TestShouldWrite_strategies(t *testing.T) {
	cases := []struct {
		strategy         config.CacheWriteStrategy
		positiveFeedback bool
		want             bool
	}{
		{config.CacheWriteAlways, false, true},
		{config.CacheWriteNever, true, false},
		{config.CacheWritePositiveFeedbackOnly, false, false},
		{config.CacheWritePositiveFeedbackOnly, true, true},
		{config.CacheWriteOfflineBatch, true, false},
	}
	for _, tc := range cases {
		c, err := New(&Config{
			Searcher: &stubSearcher{},
			Executor: &stubExecutor{},
			Strategy: tc.strategy,
		})
		require.NoError(t, err)
		require.Equal(t, tc.want, c.ShouldWrite(tc.positiveFeedback))
	}
}

var errBoom = errBoomType{}

type errBoomType struct{}

func (errBoomType) Error() string { return "boom" }
