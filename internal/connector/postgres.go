package connector

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/text2sql/orchestrator/internal/config"
)

func openPostgres(cfg *config.Config) (Connector, error) {
	p := cfg.Connector
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=prefer",
		p.User, p.Password, p.Host, orDefault(p.Port, 5432), p.Database)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connector(postgres): open failed: %w", err)
	}

	return &base{
		db:         db,
		dialect:    config.EnginePostgres,
		defaultCap: cfg.RowLimit,
		hardCap:    cfg.RowLimitHardCap,
		wrapLimit:  wrapLimitSuffix,
		listTables: listTablesInformationSchema,
	}, nil
}

// wrapLimitSuffix appends "LIMIT n" per spec §4.6's Postgres/Snowflake/
// Databricks/SQLite rule, replacing any existing trailing LIMIT clause the
// Generation/Correction agents may already have produced.
func wrapLimitSuffix(stmt string, limit int) string {
	trimmed := strings.TrimSpace(stmt)
	trimmed = strings.TrimSuffix(trimmed, ";")
	upper := strings.ToUpper(trimmed)
	if idx := strings.LastIndex(upper, " LIMIT "); idx != -1 {
		trimmed = trimmed[:idx]
	}
	return trimmed + " LIMIT " + strconv.Itoa(limit)
}
