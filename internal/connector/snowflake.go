package connector

import (
	"database/sql"
	"fmt"

	_ "github.com/snowflakedb/gosnowflake"

	"github.com/text2sql/orchestrator/internal/config"
)

func openSnowflake(cfg *config.Config) (Connector, error) {
	p := cfg.Connector
	dsn := fmt.Sprintf("%s:%s@%s/%s/%s?warehouse=%s",
		p.User, p.Password, p.Account, p.Database, p.Schema, p.Warehouse)

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("connector(snowflake): open failed: %w", err)
	}

	return &base{
		db:         db,
		dialect:    config.EngineSnowflake,
		defaultCap: cfg.RowLimit,
		hardCap:    cfg.RowLimitHardCap,
		wrapLimit:  wrapLimitSuffix,
		listTables: listTablesInformationSchema,
	}, nil
}
