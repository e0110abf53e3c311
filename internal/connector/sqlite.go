package connector

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/text2sql/orchestrator/internal/config"
)

func openSQLite(cfg *config.Config) (Connector, error) {
	p := cfg.Connector
	path := p.FilePath
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("connector(sqlite): open failed: %w", err)
	}

	return &base{
		db:         db,
		dialect:    config.EngineSQLite,
		defaultCap: cfg.RowLimit,
		hardCap:    cfg.RowLimitHardCap,
		wrapLimit:  wrapLimitSuffix,
		listTables: listTablesPragma,
	}, nil
}

// listTablesPragma enumerates SQLite tables/columns via sqlite_master and
// PRAGMA table_info, since SQLite has no INFORMATION_SCHEMA.
func listTablesPragma(ctx context.Context, db *sql.DB) ([]TableInfo, error) {
	tableRows, err := db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, fmt.Errorf("connector(sqlite): listing tables failed: %w", err)
	}
	defer tableRows.Close()

	var tables []string
	for tableRows.Next() {
		var name string
		if err := tableRows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	if err := tableRows.Err(); err != nil {
		return nil, err
	}

	result := make([]TableInfo, 0, len(tables))
	for _, table := range tables {
		info := TableInfo{Database: "main", Schema: "main", Name: table}

		colRows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
		if err != nil {
			return nil, fmt.Errorf("connector(sqlite): pragma table_info(%s) failed: %w", table, err)
		}
		for colRows.Next() {
			var (
				cid        int
				name       string
				colType    string
				notNull    int
				dfltValue  sql.NullString
				primaryKey int
			)
			if err := colRows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &primaryKey); err != nil {
				colRows.Close()
				return nil, err
			}
			info.Columns = append(info.Columns, ColumnInfo{Name: name, DataType: colType})
		}
		colRows.Close()

		result = append(result, info)
	}
	return result, nil
}
