// Package validator implements the SQL Validator (spec §4.9, §4.6, C13):
// a dialect-aware parse check that rejects anything other than a single
// read-only SELECT statement.
package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/text2sql/orchestrator/internal/config"
)

// Result is the outcome of Validate (spec §4.9 validate_sql contract).
type Result struct {
	OK     bool
	Errors []string
}

// writeVerbs are keywords that must never appear as the top-level statement
// (spec §8 invariant: "no INSERT/UPDATE/DELETE/DDL keywords at top level").
var writeVerbs = map[string]struct{}{
	"insert": {}, "update": {}, "delete": {}, "replace": {},
	"create": {}, "alter": {}, "drop": {}, "truncate": {}, "grant": {}, "revoke": {},
}

// topClause matches a leading TSQL "TOP n" or "TOP n PERCENT" modifier,
// which the vitess-derived grammar below has no notion of.
var topClause = regexp.MustCompile(`(?i)^(select\s+)top\s+\d+\s+(percent\s+)?`)

// Validate parses sql and confirms it is exactly one read-only SELECT
// statement (a plain SELECT or a UNION of SELECTs). dialect drives the one
// piece of dialect-specific rewriting the underlying grammar needs: for
// config.EngineTSQL, a leading "SELECT TOP n" is stripped before parsing,
// since the grammar doesn't otherwise recognize it and would either fail to
// parse or misparse TOP as a column alias. Past that, the vitess-derived
// grammar used here is ANSI-SQL-shaped and close enough across
// TSQL/Postgres/Snowflake/Databricks/SQLite for the structural SELECT-only
// check spec.md requires — it is not a substitute for each engine's own
// runtime parser, which is exercised for real by execute_sql.
func Validate(sql string, dialect config.Engine) *Result {
	stmt := strings.TrimSpace(sql)
	if stmt == "" {
		return &Result{Errors: []string{"empty statement"}}
	}
	if strings.Count(stmt, ";") > 1 || (strings.Contains(strings.TrimSuffix(stmt, ";"), ";")) {
		return &Result{Errors: []string{"multiple statements are not allowed"}}
	}

	parseable := stmt
	if dialect == config.EngineTSQL {
		parseable = topClause.ReplaceAllString(parseable, "$1")
	}

	parsed, err := sqlparser.Parse(parseable)
	if err != nil {
		return &Result{Errors: []string{fmt.Sprintf("parse error: %v", err)}}
	}

	selectStmt, ok := parsed.(sqlparser.SelectStatement) // *sqlparser.Select or *sqlparser.Union
	if !ok {
		verb := strings.ToLower(strings.Fields(stmt)[0])
		if _, isWrite := writeVerbs[verb]; isWrite {
			return &Result{Errors: []string{fmt.Sprintf("write statement %q is not permitted", verb)}}
		}
		return &Result{Errors: []string{"only a single SELECT statement is permitted"}}
	}

	if errs := checkNoWriteVerbsInSubqueries(selectStmt); len(errs) > 0 {
		return &Result{Errors: errs}
	}

	return &Result{OK: true}
}

// checkNoWriteVerbsInSubqueries walks the parsed SELECT looking for nested
// write statements a lenient parser might otherwise accept inside a
// subquery expression.
func checkNoWriteVerbsInSubqueries(stmt sqlparser.SQLNode) []string {
	var errs []string
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch node.(type) {
		case *sqlparser.Insert, *sqlparser.Update, *sqlparser.Delete, *sqlparser.DDL:
			errs = append(errs, "nested write statement is not permitted")
		}
		return true, nil
	}, stmt)
	return errs
}
