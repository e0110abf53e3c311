package connector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/text2sql/orchestrator/internal/config"
)

func TestWrapTop(t *testing.T) {
	got := wrapTop("SELECT * FROM SalesLT.SalesOrderHeader", 100)
	require.Equal(t, "SELECT TOP (100) * FROM SalesLT.SalesOrderHeader", got)
}

func TestWrapLimitSuffix_replacesExistingLimit(t *testing.T) {
	got := wrapLimitSuffix("SELECT * FROM t LIMIT 10", 5)
	require.Equal(t, "SELECT * FROM t LIMIT 5", got)
}

func TestWrapLimitSuffix_appendsWhenAbsent(t *testing.T) {
	got := wrapLimitSuffix("SELECT * FROM t", 5)
	require.Equal(t, "SELECT * FROM t LIMIT 5", got)
}

func TestSQLiteConnector_executeAndListTables(t *testing.T) {
	cfg := &config.Config{TargetEngine: config.EngineSQLite, RowLimit: 10, RowLimitHardCap: 10000}
	require.NoError(t, cfg.Validate())

	conn, err := Open(cfg)
	require.NoError(t, err)
	defer conn.Close()

	b := conn.(*base)
	_, err = b.db.Exec(`CREATE TABLE orders (id INTEGER PRIMARY KEY, total REAL)`)
	require.NoError(t, err)
	_, err = b.db.Exec(`INSERT INTO orders (id, total) VALUES (1, 9.5), (2, 4.0)`)
	require.NoError(t, err)

	result, err := conn.ExecuteSelect(context.Background(), "SELECT id, total FROM orders", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"id", "total"}, result.Columns)
	require.Len(t, result.Rows, 1)
	require.True(t, result.Truncated)

	tables, err := conn.ListTables(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 1)
	require.Equal(t, "orders", tables[0].Name)
}

func TestEffectiveLimit_rejectsNegative(t *testing.T) {
	b := &base{defaultCap: 100, hardCap: 10000}
	_, err := b.effectiveLimit(-1)
	require.Error(t, err)
}

func TestEffectiveLimit_clampsToHardCap(t *testing.T) {
	b := &base{defaultCap: 100, hardCap: 500}
	limit, err := b.effectiveLimit(100000)
	require.NoError(t, err)
	require.Equal(t, 500, limit)
}
