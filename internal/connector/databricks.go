package connector

import (
	"database/sql"
	"fmt"

	_ "github.com/databricks/databricks-sql-go"

	"github.com/text2sql/orchestrator/internal/config"
)

func openDatabricks(cfg *config.Config) (Connector, error) {
	p := cfg.Connector
	dsn := fmt.Sprintf("token:%s@%s:443%s", p.AccessToken, p.Host, p.HTTPPath)

	db, err := sql.Open("databricks", dsn)
	if err != nil {
		return nil, fmt.Errorf("connector(databricks): open failed: %w", err)
	}

	return &base{
		db:         db,
		dialect:    config.EngineDatabricks,
		defaultCap: cfg.RowLimit,
		hardCap:    cfg.RowLimitHardCap,
		wrapLimit:  wrapLimitSuffix,
		listTables: listTablesInformationSchema,
	}, nil
}
