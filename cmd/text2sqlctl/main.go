// Command text2sqlctl is a thin CLI wrapper around internal/orchestrator
// (spec §1 Non-goals: "Thin CLI / notebook wrappers that invoke the
// orchestrator" — out of scope for the distilled spec's own deliverable,
// kept here only as an interface-only entrypoint so the rest of the module
// is reachable from a running process). It wires every C1-C13 component
// except the in-memory C4 Column-Value Store from process configuration and environment variables, in the teacher's
// flag-plus-getEnv style (cmd/tarsy/main.go), and runs exactly one
// process_user_message round-trip against stdin/a flag, printing each
// emitted payload.Event as it arrives.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/qdrant/go-client/qdrant"
	"github.com/sirupsen/logrus"

	"github.com/text2sql/orchestrator/internal/cache"
	"github.com/text2sql/orchestrator/internal/config"
	"github.com/text2sql/orchestrator/internal/connector"
	"github.com/text2sql/orchestrator/internal/llm"
	"github.com/text2sql/orchestrator/internal/logging"
	"github.com/text2sql/orchestrator/internal/orchestrator"
	"github.com/text2sql/orchestrator/internal/payload"
	"github.com/text2sql/orchestrator/internal/prompt"
	"github.com/text2sql/orchestrator/internal/schema"
	"github.com/text2sql/orchestrator/internal/search"
	"github.com/text2sql/orchestrator/internal/state"
	"github.com/text2sql/orchestrator/internal/tool"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	envFile := flag.String("env-file", getEnv("TEXT2SQL_ENV_FILE", ""), "optional .env file to load before reading configuration")
	question := flag.String("question", "", "user_message to send; reads from stdin if empty")
	threadID := flag.String("thread-id", "", "thread_id to resume/persist against the State Store; a new UUID if empty")
	schemaFile := flag.String("schema-file", getEnv("TEXT2SQL_SCHEMA_FILE", ""), "path to a JSON array of schema.Entity documents")
	flag.Parse()

	log := logging.New(getEnv("TEXT2SQL_LOG_LEVEL", "info"))

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("text2sqlctl: failed to load configuration: %v", err)
	}

	llmClient, err := llm.New(llm.Config{
		APIKey:            os.Getenv("TEXT2SQL_OPENAI_API_KEY"),
		BaseURL:           os.Getenv("TEXT2SQL_OPENAI_BASE_URL"),
		Model:             getEnv("TEXT2SQL_OPENAI_MODEL", "gpt-4o-mini"),
		Temperature:       0,
		ToolCallRateLimit: cfg.ToolCallRateLimit,
	}, log.WithField("component", "llm"))
	if err != nil {
		log.Fatalf("text2sqlctl: failed to build llm client: %v", err)
	}

	conn, err := connector.Open(cfg)
	if err != nil {
		log.Fatalf("text2sqlctl: failed to open connector for %s: %v", cfg.TargetEngine, err)
	}
	defer conn.Close()

	tools := tool.NewRegistry()
	if t, err := tool.NewValidateSQL(); err == nil {
		tools.Register(t)
	}
	if t, err := tool.NewExecuteSQL(conn); err == nil {
		tools.Register(t)
	}

	var queryCache *cache.Cache
	if host := os.Getenv("TEXT2SQL_QDRANT_HOST"); host != "" {
		queryCache, err = wireSearchBackedComponents(log, cfg, host, conn, tools, *schemaFile)
		if err != nil {
			log.Fatalf("text2sqlctl: failed to wire search-backed components: %v", err)
		}
	} else {
		log.Warn("text2sqlctl: TEXT2SQL_QDRANT_HOST not set; running without the schema store, column-value store, or query cache")
		cfg.UseQueryCache = false
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		LLM:       llmClient,
		Tools:     tools,
		Prompts:   prompt.NewLoader(nil),
		Cache:     queryCache,
		Store:     state.NewStore(),
		Connector: conn,
		Config:    cfg,
		Log:       log.WithField("component", "orchestrator"),
	})
	if err != nil {
		log.Fatalf("text2sqlctl: failed to build orchestrator: %v", err)
	}

	msg := *question
	if msg == "" {
		msg, err = readStdin()
		if err != nil {
			log.Fatalf("text2sqlctl: failed to read user_message from stdin: %v", err)
		}
	}

	tid := *threadID
	if tid == "" {
		tid = uuid.NewString()
	}

	stream := orch.ProcessUserMessage(context.Background(), tid, payload.UserMessagePayload{UserMessage: msg})
	printEvents(stream)
}

func readStdin() (string, error) {
	b, err := io.ReadAll(bufio.NewReader(os.Stdin))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// printEvents drains stream, writing each payload.Event as one JSON line to
// stdout, until the terminal event is printed.
func printEvents(stream *payload.Stream) {
	ctx := context.Background()
	for {
		event, err := stream.Read(ctx)
		if err != nil {
			return
		}
		line, err := json.Marshal(event)
		if err != nil {
			fmt.Fprintf(os.Stderr, "text2sqlctl: failed to encode event: %v\n", err)
			continue
		}
		fmt.Println(string(line))
		if event.Terminal {
			return
		}
	}
}

// wireSearchBackedComponents builds the Search Connector (C2) over Qdrant,
// loads the Schema Store (C3) from disk, and registers the
// get_entity_schemas/get_column_values tools plus the Query Cache (C5).
// Gated on a Qdrant host actually being configured so a bare
// connector-only deployment still runs (spec §9 Open Question: exact
// embedding model is left to the caller; this wires the same openai-go
// client already used for chat completions against its embeddings
// endpoint).
func wireSearchBackedComponents(log *logrus.Logger, cfg *config.Config, host string, conn connector.Connector, tools *tool.Registry, schemaFile string) (*cache.Cache, error) {
	port := envInt("TEXT2SQL_QDRANT_PORT", 6334)
	qc, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: os.Getenv("TEXT2SQL_QDRANT_API_KEY"),
		UseTLS: envBool("TEXT2SQL_QDRANT_USE_TLS", false),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}

	embedder := &openAIEmbedder{
		client: openai.NewClient(option.WithAPIKey(os.Getenv("TEXT2SQL_OPENAI_API_KEY"))),
		model:  getEnv("TEXT2SQL_EMBEDDING_MODEL", "text-embedding-3-small"),
	}

	searchConn, err := search.New(&search.Config{
		Client:   qc,
		Embedder: embedder,
		Collections: map[search.Index]string{
			search.IndexSchema:      getEnv("TEXT2SQL_QDRANT_COLLECTION_SCHEMA", "text2sql_schema"),
			search.IndexColumnValue: getEnv("TEXT2SQL_QDRANT_COLLECTION_COLUMN_VALUES", "text2sql_column_values"),
			search.IndexQueryCache:  getEnv("TEXT2SQL_QDRANT_COLLECTION_QUERY_CACHE", "text2sql_query_cache"),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("search connector: %w", err)
	}

	if t, err := tool.NewGetColumnValues(searchConn); err == nil {
		tools.Register(t)
	}

	if schemaFile != "" {
		entities, err := loadSchemaEntities(schemaFile)
		if err != nil {
			return nil, fmt.Errorf("schema store: %w", err)
		}
		store, err := schema.NewStore(entities)
		if err != nil {
			return nil, fmt.Errorf("schema store: %w", err)
		}
		if t, err := tool.NewGetEntitySchemas(store, searchConn); err == nil {
			tools.Register(t)
		}
	} else {
		log.Warn("text2sqlctl: -schema-file not set; get_entity_schemas will not be available")
	}

	if !cfg.UseQueryCache {
		return nil, nil
	}

	queryCache, err := cache.New(&cache.Config{
		Searcher:  &cacheSearcher{conn: searchConn},
		Executor:  &cacheExecutor{conn: conn},
		Threshold: cfg.CacheHitThreshold,
		PreRun:    cfg.PreRunQueryCache,
		Strategy:  cfg.CacheWriteStrategy,
	})
	if err != nil {
		return nil, fmt.Errorf("query cache: %w", err)
	}
	return queryCache, nil
}

// cacheSearcher adapts the Search Connector's query-cache index into
// cache.Searcher.
type cacheSearcher struct {
	conn *search.Connector
}

func (s *cacheSearcher) SearchCache(ctx context.Context, questionText string, n int) ([]cache.SearchResult, error) {
	docs, err := s.conn.Hybrid(ctx, search.IndexQueryCache, "question_text", questionText, n)
	if err != nil {
		return nil, err
	}
	results := make([]cache.SearchResult, 0, len(docs))
	for _, d := range docs {
		entry := &cache.Entry{
			ID:           d.ID,
			QuestionText: stringField(d.Payload, "question_text"),
			SQLTemplate:  stringField(d.Payload, "sql_template"),
		}
		results = append(results, cache.SearchResult{Entry: entry, Score: float64(d.Score)})
	}
	return results, nil
}

// cacheExecutor adapts a connector.Connector into cache.Executor.
type cacheExecutor struct {
	conn connector.Connector
}

func (e *cacheExecutor) ExecuteSelect(ctx context.Context, sql string, rowLimit int) (*cache.Rows, error) {
	if e.conn == nil {
		return nil, fmt.Errorf("cacheExecutor: no connector configured")
	}
	result, err := e.conn.ExecuteSelect(ctx, sql, rowLimit)
	if err != nil {
		return nil, err
	}
	return &cache.Rows{Columns: result.Columns, Values: result.Rows}, nil
}

func stringField(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return v
}

func loadSchemaEntities(path string) ([]*schema.Entity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entities []*schema.Entity
	if err := json.NewDecoder(f).Decode(&entities); err != nil {
		return nil, fmt.Errorf("invalid schema file: %w", err)
	}
	return entities, nil
}

// openAIEmbedder implements search.Embedder against the OpenAI embeddings
// endpoint, grounded on the same openai-go client internal/llm uses for
// chat completions, as the Search Connector's vector leg.
type openAIEmbedder struct {
	client openai.Client
	model  string
}

func (e *openAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: e.model,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embedding: empty response")
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, f := range resp.Data[0].Embedding {
		vec[i] = float32(f)
	}
	return vec, nil
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
