package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/text2sql/orchestrator/internal/columnvalue"
	"github.com/text2sql/orchestrator/internal/config"
	"github.com/text2sql/orchestrator/internal/connector"
	"github.com/text2sql/orchestrator/internal/schema"
	"github.com/text2sql/orchestrator/internal/search"
	"github.com/text2sql/orchestrator/internal/validator"
)

// GetEntitySchemasArgs is the get_entity_schemas tool's argument shape
// (spec §4.9: "get_entity_schemas(search_text, n=3, selected_entities?:
// string[])").
type GetEntitySchemasArgs struct {
	SearchText       string   `json:"search_text" jsonschema:"required,description=free text describing the entities needed"`
	N                int      `json:"n,omitempty" jsonschema:"description=max entities to return, default 3"`
	SelectedEntities []string `json:"selected_entities,omitempty" jsonschema:"description=restrict results to these entity FQNs"`
}

// NewGetEntitySchemas wires the tool to the Schema Store (for the resolved
// Entity documents) and the Search Connector's schema index (for the hybrid
// ranking over FQNs).
func NewGetEntitySchemas(store *schema.Store, conn *search.Connector) (*Tool, error) {
	return New[GetEntitySchemasArgs]("get_entity_schemas",
		"Hybrid search against the schema store; returns top-n matching entities by semantic rerank, optionally filtered to selected_entities.",
		func(ctx context.Context, argsJSON string) (string, error) {
			var args GetEntitySchemasArgs
			if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
				return "", fmt.Errorf("get_entity_schemas: invalid arguments: %w", err)
			}
			n := args.N
			if n <= 0 {
				n = 3
			}

			docs, err := conn.Hybrid(ctx, search.IndexSchema, "definition", args.SearchText, n)
			if err != nil {
				return "", err
			}

			entities := make([]*schema.Entity, 0, len(docs))
			for _, d := range docs {
				fqn, _ := d.Payload["FQN"].(string)
				if fqn == "" {
					continue
				}
				if len(args.SelectedEntities) > 0 && !lo.Contains(args.SelectedEntities, fqn) {
					continue
				}
				e, ok := store.Get(fqn)
				if !ok {
					continue
				}
				entities = append(entities, e)
			}
			return marshalResult(entities)
		},
	)
}

// GetColumnValuesArgs is the get_column_values tool's argument shape.
type GetColumnValuesArgs struct {
	SearchText string `json:"search_text" jsonschema:"required,description=candidate filter value text"`
	N          int    `json:"n,omitempty" jsonschema:"description=max values to return, default 5"`
}

// ColumnValueMatch is one {entity, column, value} hit (spec §4.9).
type ColumnValueMatch struct {
	Entity string `json:"entity"`
	Column string `json:"column"`
	Value  string `json:"value"`
}

// NewGetColumnValues wires the tool to the Search Connector's column-value
// index.
func NewGetColumnValues(conn *search.Connector) (*Tool, error) {
	return New[GetColumnValuesArgs]("get_column_values",
		"Vector search against the column-value store; returns candidate (entity, column, value) matches for a filter term.",
		func(ctx context.Context, argsJSON string) (string, error) {
			var args GetColumnValuesArgs
			if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
				return "", fmt.Errorf("get_column_values: invalid arguments: %w", err)
			}
			n := args.N
			if n <= 0 {
				n = 5
			}

			docs, err := conn.Hybrid(ctx, search.IndexColumnValue, "Value", args.SearchText, n)
			if err != nil {
				return "", err
			}

			matches := make([]ColumnValueMatch, 0, len(docs))
			for _, d := range docs {
				matches = append(matches, ColumnValueMatch{
					Entity: stringField(d.Payload, "Entity"),
					Column: stringField(d.Payload, "Column"),
					Value:  stringField(d.Payload, "Value"),
				})
			}
			return marshalResult(matches)
		},
	)
}

// ColumnValueStoreLookup returns every record an in-memory
// columnvalue.Store holds for the entity fqn, for deployments that keep the
// dimension table small enough to skip a vector round-trip (spec §4 does not
// mandate Qdrant for C4, only that C2 can search it). It does no text
// matching or ranking.
func ColumnValueStoreLookup(store *columnvalue.Store, fqn string) []*columnvalue.Value {
	return store.ForEntity(fqn)
}

func stringField(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return v
}

// ValidateSQLArgs is the validate_sql tool's argument shape.
type ValidateSQLArgs struct {
	SQL     string `json:"sql" jsonschema:"required,description=candidate SQL statement"`
	Dialect string `json:"dialect" jsonschema:"required,description=target engine: tsql, postgres, snowflake, databricks, or sqlite"`
}

// ValidateSQLResult mirrors spec §4.9's {ok, errors?} contract.
type ValidateSQLResult struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors,omitempty"`
}

// NewValidateSQL wires the tool to the C13 SQL Validator.
func NewValidateSQL() (*Tool, error) {
	return New[ValidateSQLArgs]("validate_sql",
		"Parses a candidate SQL statement and rejects anything other than a single read-only SELECT.",
		func(_ context.Context, argsJSON string) (string, error) {
			var args ValidateSQLArgs
			if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
				return "", fmt.Errorf("validate_sql: invalid arguments: %w", err)
			}
			result := validator.Validate(args.SQL, config.Engine(args.Dialect))
			return marshalResult(ValidateSQLResult{OK: result.OK, Errors: result.Errors})
		},
	)
}

// ExecuteSQLArgs is the execute_sql tool's argument shape.
type ExecuteSQLArgs struct {
	SQL      string `json:"sql" jsonschema:"required,description=single SELECT statement"`
	Dialect  string `json:"dialect" jsonschema:"required,description=target engine, must match the active connector"`
	RowLimit int    `json:"row_limit,omitempty" jsonschema:"description=max rows to return, 0 uses the process default"`
}

// ExecuteSQLResult mirrors spec §4.9's {columns, rows, truncated} | {error}
// contract; Error is set instead of Columns/Rows on failure so the model
// sees a single, always-valid JSON object either way.
type ExecuteSQLResult struct {
	Columns   []string `json:"columns,omitempty"`
	Rows      [][]any  `json:"rows,omitempty"`
	Truncated bool     `json:"truncated,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// NewExecuteSQL wires the tool to a live C1 Connector. It validates the SQL
// first (spec §4.9: all non-execute_sql tools are side-effect-free, but
// execute_sql must still never run a write statement that slipped past
// generation) before handing off to the connector.
func NewExecuteSQL(conn connector.Connector) (*Tool, error) {
	return New[ExecuteSQLArgs]("execute_sql",
		"Executes a single read-only SELECT statement against the configured database, enforcing row_limit.",
		func(ctx context.Context, argsJSON string) (string, error) {
			var args ExecuteSQLArgs
			if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
				return "", fmt.Errorf("execute_sql: invalid arguments: %w", err)
			}

			if result := validator.Validate(args.SQL, conn.Dialect()); !result.OK {
				return marshalResult(ExecuteSQLResult{Error: fmt.Sprintf("sql rejected by validator: %v", result.Errors)})
			}

			execResult, err := conn.ExecuteSelect(ctx, args.SQL, args.RowLimit)
			if err != nil {
				return marshalResult(ExecuteSQLResult{Error: err.Error()})
			}
			return marshalResult(ExecuteSQLResult{
				Columns:   execResult.Columns,
				Rows:      execResult.Rows,
				Truncated: execResult.Truncated,
			})
		},
	)
}

// CurrentDateTimeArgs is empty: current_datetime takes no arguments
// (spec §4.9).
type CurrentDateTimeArgs struct{}

// NewCurrentDateTime returns a tool that always answers with the same
// instant, captured once at Run start (spec §4.9: "deterministic per Run").
// The Run owns the clock; this tool does not call time.Now() itself.
func NewCurrentDateTime(runStartedAt time.Time) (*Tool, error) {
	iso := runStartedAt.UTC().Format(time.RFC3339)
	return New[CurrentDateTimeArgs]("current_datetime",
		"Returns the Run's fixed current date/time as an ISO8601 string.",
		func(_ context.Context, _ string) (string, error) {
			return marshalResult(iso)
		},
	)
}
