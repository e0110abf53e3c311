// Package search implements the Search Connector (spec §4, C2): hybrid
// (vector + keyword + semantic rerank) search over three independent
// indices — schema store, column-value store, and query cache — each
// backed by its own Qdrant collection, grounded on the teacher's
// ai/providers/vectorstores/qdrant store.
//
// Exact embedding model and rerank configuration are left to the caller
// (spec §9 Open Questions: "the spec requires hybrid search with semantic
// rerank but not a specific model"); this package exposes the seams
// (Embedder, Reranker) rather than hard-coding a model.
package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// Index names the three indices spec §2 assigns to the Search Connector.
type Index string

const (
	IndexSchema      Index = "schema_store"
	IndexColumnValue Index = "column_value_store"
	IndexQueryCache  Index = "query_cache"
)

// Embedder turns free text into a dense vector. Implementations wrap
// whichever embedding model the deployment is configured with.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Reranker reorders (and may re-score) a result batch using a more
// expensive, higher-precision pass than the initial vector+keyword fusion.
// The default implementation is the identity reranker: fused scores in,
// same order out.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []ScoredDoc) ([]ScoredDoc, error)
}

// ScoredDoc is one hit from a hybrid search, carrying the raw payload so
// callers can decode it into an Entity, a column value, or a cache entry
// depending on which Index was queried.
type ScoredDoc struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Config wires a Qdrant client and the collection name used for each
// index, plus the pluggable embedding/rerank seams.
type Config struct {
	Client      *qdrant.Client
	Collections map[Index]string
	Embedder    Embedder
	Reranker    Reranker // optional; defaults to identity
}

func (c *Config) validate() error {
	if c == nil {
		return errors.New("search: config is nil")
	}
	if c.Client == nil {
		return errors.New("search: qdrant client is required")
	}
	if c.Embedder == nil {
		return errors.New("search: embedder is required")
	}
	for _, idx := range []Index{IndexSchema, IndexColumnValue, IndexQueryCache} {
		if c.Collections[idx] == "" {
			return fmt.Errorf("search: missing collection name for index %q", idx)
		}
	}
	return nil
}

type identityReranker struct{}

func (identityReranker) Rerank(_ context.Context, _ string, docs []ScoredDoc) ([]ScoredDoc, error) {
	return docs, nil
}

// Connector is the C2 Search Connector.
type Connector struct {
	client      *qdrant.Client
	collections map[Index]string
	embedder    Embedder
	reranker    Reranker
}

// New constructs a Connector from a validated Config.
func New(cfg *Config) (*Connector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	reranker := cfg.Reranker
	if reranker == nil {
		reranker = identityReranker{}
	}
	return &Connector{
		client:      cfg.Client,
		collections: cfg.Collections,
		embedder:    cfg.Embedder,
		reranker:    reranker,
	}, nil
}

// Hybrid performs a dense-vector search fused with a keyword (payload
// full-text) search over the given index's collection, then reranks the
// fused result set. n bounds the number of documents returned.
//
// keywordField names the payload field holding the searchable text for the
// keyword leg of the fusion (e.g. "definition" for the schema index,
// "Value" for the column-value index, "question_text" for the cache
// index).
func (c *Connector) Hybrid(ctx context.Context, index Index, keywordField, queryText string, n int) ([]ScoredDoc, error) {
	if n <= 0 {
		n = 5
	}
	collection, ok := c.collections[index]
	if !ok {
		return nil, fmt.Errorf("search: unknown index %q", index)
	}

	vector, err := c.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("search: failed to embed query: %w", err)
	}

	fetchLimit := uint64(n * 4)
	points, err := c.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		WithPayload:    qdrant.NewWithPayload(true),
		Limit:          qdrantPtr(uint64(n)),
		Prefetch: []*qdrant.PrefetchQuery{
			{
				Query:          qdrant.NewQuery(vector...),
				Limit:          qdrantPtr(fetchLimit),
				CollectionName: &collection,
			},
			{
				Filter: &qdrant.Filter{
					Should: []*qdrant.Condition{
						qdrant.NewMatchText(keywordField, queryText),
					},
				},
				Limit:          qdrantPtr(fetchLimit),
				CollectionName: &collection,
			},
		},
		Query: qdrant.NewQueryFusion(qdrant.Fusion_RRF),
	})
	if err != nil {
		return nil, fmt.Errorf("search: hybrid query against %q failed: %w", index, err)
	}

	docs := make([]ScoredDoc, 0, len(points))
	for _, p := range points {
		docs = append(docs, ScoredDoc{
			ID:      pointIDString(p.Id),
			Score:   p.Score,
			Payload: payloadToMap(p.Payload),
		})
	}

	reranked, err := c.reranker.Rerank(ctx, queryText, docs)
	if err != nil {
		return nil, fmt.Errorf("search: rerank failed: %w", err)
	}
	if len(reranked) > n {
		reranked = reranked[:n]
	}
	return reranked, nil
}

func qdrantPtr[T any](v T) *T {
	return &v
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uid, ok := id.PointIdOptions.(*qdrant.PointId_Uuid); ok {
		return uid.Uuid
	}
	if num, ok := id.PointIdOptions.(*qdrant.PointId_Num); ok {
		return fmt.Sprintf("%d", num.Num)
	}
	return ""
}

func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = qdrantValueToAny(v)
	}
	return out
}

func qdrantValueToAny(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch kind := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		if kind.ListValue == nil {
			return nil
		}
		list := make([]any, 0, len(kind.ListValue.Values))
		for _, item := range kind.ListValue.Values {
			list = append(list, qdrantValueToAny(item))
		}
		return list
	case *qdrant.Value_StructValue:
		if kind.StructValue == nil {
			return nil
		}
		return payloadToMap(kind.StructValue.Fields)
	default:
		return nil
	}
}
