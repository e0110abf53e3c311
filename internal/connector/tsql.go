package connector

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/text2sql/orchestrator/internal/config"
)

func openTSQL(cfg *config.Config) (Connector, error) {
	p := cfg.Connector
	query := url.Values{}
	query.Add("database", p.Database)
	dsn := fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(p.User), url.QueryEscape(p.Password), p.Host, orDefault(p.Port, 1433), query.Encode())

	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("connector(tsql): open failed: %w", err)
	}

	return &base{
		db:         db,
		dialect:    config.EngineTSQL,
		defaultCap: cfg.RowLimit,
		hardCap:    cfg.RowLimitHardCap,
		wrapLimit:  wrapTop,
		listTables: listTablesInformationSchema,
	}, nil
}

// wrapTop rewrites "SELECT <cols> FROM ..." into "SELECT TOP (n) <cols>
// FROM ..." per spec §4.6's TSQL engine-specific rule. It only handles the
// single top-level SELECT the Generation/Correction agents are contracted
// to produce (spec §8 invariant).
func wrapTop(stmt string, limit int) string {
	trimmed := strings.TrimSpace(stmt)
	trimmed = strings.TrimSuffix(trimmed, ";")
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") {
		return trimmed
	}
	if strings.Contains(upper, " TOP (") || strings.Contains(upper, " TOP(") {
		return trimmed
	}
	return "SELECT TOP (" + strconv.Itoa(limit) + ") " + strings.TrimSpace(trimmed[len("SELECT"):])
}

func listTablesInformationSchema(ctx context.Context, db *sql.DB) ([]TableInfo, error) {
	rows, err := db.QueryContext(ctx, `
SELECT TABLE_CATALOG, TABLE_SCHEMA, TABLE_NAME, COLUMN_NAME, DATA_TYPE
FROM INFORMATION_SCHEMA.COLUMNS
ORDER BY TABLE_CATALOG, TABLE_SCHEMA, TABLE_NAME, ORDINAL_POSITION`)
	if err != nil {
		return nil, fmt.Errorf("connector: information_schema query failed: %w", err)
	}
	defer rows.Close()

	byTable := map[string]*TableInfo{}
	var order []string
	for rows.Next() {
		var database, schemaName, table, column, dataType string
		if err := rows.Scan(&database, &schemaName, &table, &column, &dataType); err != nil {
			return nil, err
		}
		key := database + "." + schemaName + "." + table
		info, ok := byTable[key]
		if !ok {
			info = &TableInfo{Database: database, Schema: schemaName, Name: table}
			byTable[key] = info
			order = append(order, key)
		}
		info.Columns = append(info.Columns, ColumnInfo{Name: column, DataType: dataType})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]TableInfo, 0, len(order))
	for _, key := range order {
		result = append(result, *byTable[key])
	}
	return result, nil
}

func orDefault(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}
