package validator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/text2sql/orchestrator/internal/config"
)

func TestValidate_acceptsSelect(t *testing.T) {
	result := Validate("SELECT COUNT(*) AS c FROM SalesLT.SalesOrderHeader WHERE YEAR(OrderDate) = 2008", config.EngineTSQL)
	require.True(t, result.OK)
	require.Empty(t, result.Errors)
}

func TestValidate_rejectsInsert(t *testing.T) {
	result := Validate("INSERT INTO t (a) VALUES (1)", config.EnginePostgres)
	require.False(t, result.OK)
	require.NotEmpty(t, result.Errors)
}

func TestValidate_rejectsMultipleStatements(t *testing.T) {
	result := Validate("SELECT 1; DROP TABLE t;", config.EngineSQLite)
	require.False(t, result.OK)
}

func TestValidate_rejectsEmpty(t *testing.T) {
	result := Validate("   ", config.EngineSQLite)
	require.False(t, result.OK)
}

func TestValidate_rejectsMalformedSQL(t *testing.T) {
	result := Validate("SELEKT * FORM t", config.EngineSnowflake)
	require.False(t, result.OK)
}

func TestValidate_acceptsTSQLTopN(t *testing.T) {
	result := Validate("SELECT TOP 1 CustomerID FROM SalesLT.Customer ORDER BY CustomerID", config.EngineTSQL)
	require.True(t, result.OK)
	require.Empty(t, result.Errors)
}

func TestValidate_acceptsTSQLTopNPercent(t *testing.T) {
	result := Validate("SELECT TOP 10 PERCENT CustomerID FROM SalesLT.Customer", config.EngineTSQL)
	require.True(t, result.OK)
	require.Empty(t, result.Errors)
}

func TestValidate_rejectsTopOutsideTSQLDialect(t *testing.T) {
	result := Validate("SELECT TOP 1 CustomerID FROM SalesLT.Customer", config.EnginePostgres)
	require.False(t, result.OK)
}

func TestValidate_acceptsUnion(t *testing.T) {
	result := Validate("SELECT id FROM a UNION SELECT id FROM b", config.EnginePostgres)
	require.True(t, result.OK)
	require.Empty(t, result.Errors)
}
