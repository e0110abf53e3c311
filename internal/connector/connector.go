// Package connector implements the SQL Connector (spec §4, C1): execute a
// single read-only SELECT with a row cap, and enumerate schemas, columns,
// and sample values for offline schema-document generation.
//
// One Connector implementation exists per supported engine
// (tsql, postgres, snowflake, databricks, sqlite); all share the
// database/sql execution core and differ only in driver wiring and the
// dialect-specific row-limiting/introspection SQL.
package connector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/text2sql/orchestrator/internal/config"
)

// ExecuteResult is the full result of execute_sql (spec §4.9): either rows
// (possibly truncated to the row cap) or an error populated for the caller
// to surface as a source-level failure.
type ExecuteResult struct {
	Columns   []string
	Rows      [][]any
	Truncated bool
}

// ColumnInfo describes one column surfaced by schema enumeration.
type ColumnInfo struct {
	Name         string
	DataType     string
	SampleValues []string
}

// TableInfo describes one enumerable table/view.
type TableInfo struct {
	Database string
	Schema   string
	Name     string
	Columns  []ColumnInfo
}

// Connector is the C1 SQL Connector contract.
type Connector interface {
	// ExecuteSelect runs a single SELECT statement, enforcing rowLimit by
	// wrapping the statement per-dialect. rowLimit == 0 uses the
	// connector's configured default, a negative rowLimit is an error, and
	// a rowLimit above the hard cap is clamped to it.
	ExecuteSelect(ctx context.Context, sql string, rowLimit int) (*ExecuteResult, error)

	// ListTables enumerates every table/view visible to the configured
	// credentials, used by offline schema-document generation.
	ListTables(ctx context.Context) ([]TableInfo, error)

	// SampleValues returns up to n distinct sample values for a column,
	// used to populate Entity.Columns[].SampleValues.
	SampleValues(ctx context.Context, database, schemaName, table, column string, n int) ([]string, error)

	// Dialect identifies the engine for prompt-rule selection (spec §6.4).
	Dialect() config.Engine

	// Close releases underlying driver resources.
	Close() error
}

// Open constructs the Connector for cfg.TargetEngine, wiring the
// corresponding database/sql driver (spec §6.4: "Selects dialect; chooses
// correct connector and rules file").
func Open(cfg *config.Config) (Connector, error) {
	switch cfg.TargetEngine {
	case config.EngineTSQL:
		return openTSQL(cfg)
	case config.EnginePostgres:
		return openPostgres(cfg)
	case config.EngineSnowflake:
		return openSnowflake(cfg)
	case config.EngineDatabricks:
		return openDatabricks(cfg)
	case config.EngineSQLite:
		return openSQLite(cfg)
	default:
		return nil, fmt.Errorf("connector: unsupported engine %q", cfg.TargetEngine)
	}
}

// base implements the shared database/sql execution core; engine files
// embed it and supply Dialect()/wrapWithLimit()/introspection queries.
type base struct {
	db          *sql.DB
	dialect     config.Engine
	defaultCap  int
	hardCap     int
	wrapLimit   func(stmt string, limit int) string
	listTables  func(ctx context.Context, db *sql.DB) ([]TableInfo, error)
}

func (b *base) Dialect() config.Engine {
	return b.dialect
}

func (b *base) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *base) effectiveLimit(requested int) (int, error) {
	if requested == 0 {
		return b.defaultCap, nil
	}
	if requested < 0 {
		return 0, errors.New("connector: row limit must not be negative")
	}
	if requested > b.hardCap {
		return b.hardCap, nil
	}
	return requested, nil
}

func (b *base) ExecuteSelect(ctx context.Context, stmt string, rowLimit int) (*ExecuteResult, error) {
	limit, err := b.effectiveLimit(rowLimit)
	if err != nil {
		return nil, err
	}

	wrapped := b.wrapLimit(stmt, limit+1) // fetch one extra row to detect truncation
	rows, err := b.db.QueryContext(ctx, wrapped)
	if err != nil {
		return nil, fmt.Errorf("connector(%s): query failed: %w", b.dialect, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("connector(%s): failed reading columns: %w", b.dialect, err)
	}

	result := &ExecuteResult{Columns: cols}
	for rows.Next() {
		if len(result.Rows) >= limit {
			result.Truncated = true
			break
		}
		values := make([]any, len(cols))
		pointers := make([]any, len(cols))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("connector(%s): scan failed: %w", b.dialect, err)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("connector(%s): row iteration failed: %w", b.dialect, err)
	}

	return result, nil
}

func (b *base) ListTables(ctx context.Context) ([]TableInfo, error) {
	return b.listTables(ctx, b.db)
}

func (b *base) SampleValues(ctx context.Context, database, schemaName, table, column string, n int) ([]string, error) {
	if n <= 0 {
		n = 5
	}
	stmt := fmt.Sprintf(
		"SELECT DISTINCT %s FROM %s.%s.%s",
		quoteIdent(b.dialect, column),
		quoteIdent(b.dialect, database),
		quoteIdent(b.dialect, schemaName),
		quoteIdent(b.dialect, table),
	)
	wrapped := b.wrapLimit(stmt, n)

	rows, err := b.db.QueryContext(ctx, wrapped)
	if err != nil {
		return nil, fmt.Errorf("connector(%s): sample values query failed: %w", b.dialect, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if v.Valid {
			values = append(values, v.String)
		}
	}
	return values, rows.Err()
}

// quoteIdent applies the per-dialect identifier quoting rule.
func quoteIdent(dialect config.Engine, ident string) string {
	switch dialect {
	case config.EngineTSQL:
		return "[" + ident + "]"
	case config.EnginePostgres, config.EngineSnowflake, config.EngineDatabricks, config.EngineSQLite:
		return `"` + ident + `"`
	default:
		return ident
	}
}
