// Package cache implements the Query Cache (spec §4.10, C5): a searchable
// index of previously answered questions, their Jinja SQL templates, and
// optional pre-run rows, write-through after successful generation.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nikolalohinski/gonja"
	"github.com/nikolalohinski/gonja/exec"
	"github.com/spf13/cast"

	"github.com/text2sql/orchestrator/internal/config"
)

// Entry is one cache record (spec §3 CacheEntry, §6.2 schema refs).
type Entry struct {
	ID           string
	QuestionText string
	SQLTemplate  string // Jinja
	SchemaFQNs   []string
	PreRunRows   *Rows
	CreatedAt    time.Time
}

// Rows is a lightweight tabular row set, shared with the connector package's
// execution result shape.
type Rows struct {
	Columns []string
	Values  [][]any
}

// HitKind distinguishes the two cache-hit outcomes the router (spec §4.2)
// branches on.
type HitKind int

const (
	Miss HitKind = iota
	HitWithPreRunRows
	HitWithoutPreRunRows
)

// Hit is the result of a cache Lookup.
type Hit struct {
	Kind  HitKind
	Entry *Entry
	Score float64
}

// Searcher is the subset of the Search Connector (C2) the cache needs:
// hybrid search scoped to the query-cache index.
type Searcher interface {
	SearchCache(ctx context.Context, questionText string, n int) ([]SearchResult, error)
}

// SearchResult is one hybrid-search hit against the cache index, already
// decoded into an Entry.
type SearchResult struct {
	Entry *Entry
	Score float64
}

// Executor is the subset of the SQL Connector (C1) the cache needs to
// pre-run a rendered template.
type Executor interface {
	ExecuteSelect(ctx context.Context, sql string, rowLimit int) (*Rows, error)
}

// Cache is the C5 Query Cache.
type Cache struct {
	searcher  Searcher
	executor  Executor
	threshold float64
	preRun    bool
	strategy  config.CacheWriteStrategy

	mu      sync.Mutex
	written map[string]*Entry // last-writer-wins by question text, in-process fallback store
	writer  Writer
}

// Writer persists a new/updated cache entry. A production deployment wires
// this to the same Qdrant collection the Searcher reads from; tests and the
// offline-batch strategy can use an in-memory stub.
type Writer interface {
	Write(ctx context.Context, entry *Entry) error
}

// Config configures a Cache instance.
type Config struct {
	Searcher  Searcher
	Executor  Executor
	Writer    Writer
	Threshold float64 // cache_hit_threshold, default 0.85
	PreRun    bool    // pre_run_query_cache
	Strategy  config.CacheWriteStrategy
}

func (c *Config) validate() error {
	if c == nil {
		return errors.New("cache: config is nil")
	}
	if c.Searcher == nil {
		return errors.New("cache: searcher is required")
	}
	if c.Executor == nil {
		return errors.New("cache: executor is required")
	}
	if c.Threshold <= 0 {
		c.Threshold = 0.85
	}
	if c.Strategy == "" {
		c.Strategy = config.CacheWriteAlways
	}
	return nil
}

// New builds a Cache from a validated Config.
func New(cfg *Config) (*Cache, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Cache{
		searcher:  cfg.Searcher,
		executor:  cfg.Executor,
		threshold: cfg.Threshold,
		preRun:    cfg.PreRun,
		strategy:  cfg.Strategy,
		written:   make(map[string]*Entry),
		writer:    cfg.Writer,
	}, nil
}

// Lookup embeds the sub-question, searches the cache index, and if the top
// score clears the configured threshold, optionally pre-runs the rendered
// SQL (spec §4.10). A pre-run execution error demotes the hit to
// HitWithoutPreRunRows rather than failing the lookup outright.
func (c *Cache) Lookup(ctx context.Context, questionText string, params map[string]any) (*Hit, error) {
	results, err := c.searcher.SearchCache(ctx, questionText, 1)
	if err != nil {
		return nil, fmt.Errorf("cache: search failed: %w", err)
	}
	if len(results) == 0 || results[0].Score < c.threshold {
		return &Hit{Kind: Miss}, nil
	}

	top := results[0]
	if !c.preRun {
		return &Hit{Kind: HitWithoutPreRunRows, Entry: top.Entry, Score: top.Score}, nil
	}

	rendered, err := Render(top.Entry.SQLTemplate, params)
	if err != nil {
		// A broken template demotes to "no pre-run" rather than failing
		// the whole lookup: the SQL Generation/Correction path can still
		// consume the cached schemas.
		return &Hit{Kind: HitWithoutPreRunRows, Entry: top.Entry, Score: top.Score}, nil
	}

	rows, err := c.executor.ExecuteSelect(ctx, rendered, 0)
	if err != nil {
		return &Hit{Kind: HitWithoutPreRunRows, Entry: top.Entry, Score: top.Score}, nil
	}

	entryCopy := *top.Entry
	entryCopy.PreRunRows = rows
	entryCopy.SQLTemplate = rendered
	return &Hit{Kind: HitWithPreRunRows, Entry: &entryCopy, Score: top.Score}, nil
}

// Render renders a Jinja SQL template with the pre-populated placeholders
// (date, datetime, time, unix_timestamp) plus explicit request parameters
// (spec §4.10, §9: "the template engine must be configured without unsafe
// filesystem or exec extensions; only the whitelisted placeholders plus
// explicit request parameters are in scope").
func Render(template string, params map[string]any) (string, error) {
	env, err := gonja.FromString(template)
	if err != nil {
		return "", fmt.Errorf("cache: invalid template: %w", err)
	}

	now := time.Now().UTC()
	ctx := exec.NewContext(map[string]any{
		"date":           now.Format("2006-01-02"),
		"datetime":       now.Format(time.RFC3339),
		"time":           now.Format("15:04:05"),
		"unix_timestamp": now.Unix(),
	})
	for k, v := range params {
		ctx.Set(k, coerceParam(v))
	}

	out, err := env.ExecuteToString(ctx)
	if err != nil {
		return "", fmt.Errorf("cache: template render failed: %w", err)
	}
	return out, nil
}

// coerceParam normalizes an injected_parameters value (spec §4.10) into a
// type the Jinja renderer formats predictably: arbitrary caller-supplied
// values (JSON numbers decoded as float64, string digits, etc.) are coerced
// to string via spf13/cast the same way the teacher's request builder
// coerces an untyped metadata value (ai/extensions/models/openai/chat_model.go
// buildAssistantMsg, cast.ToString(refusal)), leaving types gonja already
// renders predictably (string, bool, time.Time) untouched.
func coerceParam(v any) any {
	switch v.(type) {
	case string, bool, time.Time:
		return v
	default:
		return cast.ToString(v)
	}
}

// ShouldWrite applies the write-through policy (spec §4.10) for a
// successfully completed Run. positiveFeedback is only consulted under the
// positive_feedback_only strategy.
func (c *Cache) ShouldWrite(positiveFeedback bool) bool {
	switch c.strategy {
	case config.CacheWriteNever:
		return false
	case config.CacheWritePositiveFeedbackOnly:
		return positiveFeedback
	case config.CacheWriteOfflineBatch:
		return false // collected out-of-band via PendingBatch
	default:
		return true
	}
}

// Write persists a newly generated (question, sql, schemas) tuple,
// non-fatally on failure (spec §7: CacheWriteFailure is non-fatal).
func (c *Cache) Write(ctx context.Context, questionText, sqlTemplate string, schemaFQNs []string) error {
	entry := &Entry{
		ID:           uuid.NewString(),
		QuestionText: questionText,
		SQLTemplate:  sqlTemplate,
		SchemaFQNs:   schemaFQNs,
		CreatedAt:    time.Now().UTC(),
	}

	c.mu.Lock()
	c.written[questionText] = entry // last-writer-wins by question text
	c.mu.Unlock()

	if c.strategy == config.CacheWriteOfflineBatch {
		return nil
	}
	if c.writer == nil {
		return nil
	}
	if err := c.writer.Write(ctx, entry); err != nil {
		return fmt.Errorf("cache: write failed (non-fatal): %w", err)
	}
	return nil
}

// PendingBatch returns every entry recorded by Write (one per question text,
// the latest write winning), for an out-of-band job to persist. Write records
// entries under every strategy, and nothing clears them, so the batch holds
// every entry written since the Cache was created.
func (c *Cache) PendingBatch() []*Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := make([]*Entry, 0, len(c.written))
	for _, e := range c.written {
		batch = append(batch, e)
	}
	return batch
}
