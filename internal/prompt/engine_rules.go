package prompt

import "github.com/text2sql/orchestrator/internal/config"

// engineRules holds the per-engine cheat sheet appended to generation and
// correction prompts (spec §4.6: "Follow engine_specific_rules for the
// target engine"; SUPPLEMENTED FEATURES: a small per-engine rules registry,
// one map entry per engine). These are seed defaults; a deployment
// may override via config.Config.EngineSpecificRules, which takes
// precedence when non-empty (see Loader.Render).
var engineRules = map[config.Engine]string{
	config.EngineTSQL: "Row limiting: SELECT TOP (n) ... (no LIMIT clause). " +
		"Date parts: DATEPART(year, col), YEAR(col), EOMONTH(col). " +
		"String match: col LIKE '%term%' (case-insensitive by default collation). " +
		"String concat: col1 + col2. Current date: GETDATE().",
	config.EnginePostgres: "Row limiting: SELECT ... LIMIT n. " +
		"Date parts: EXTRACT(YEAR FROM col), DATE_TRUNC('month', col). " +
		"String match: col ILIKE '%term%'. String concat: col1 || col2. Current date: NOW().",
	config.EngineSnowflake: "Row limiting: SELECT ... LIMIT n. " +
		"Date parts: YEAR(col), DATE_TRUNC('MONTH', col). " +
		"String match: col ILIKE '%term%'. String concat: col1 || col2. Current date: CURRENT_TIMESTAMP().",
	config.EngineDatabricks: "Row limiting: SELECT ... LIMIT n. " +
		"Date parts: YEAR(col), DATE_TRUNC('MONTH', col). " +
		"String match: lower(col) LIKE lower('%term%'). String concat: concat(col1, col2). Current date: CURRENT_TIMESTAMP().",
	config.EngineSQLite: "Row limiting: SELECT ... LIMIT n. " +
		"Date parts: strftime('%Y', col), strftime('%m', col). " +
		"String match: col LIKE '%term%' COLLATE NOCASE. String concat: col1 || col2. Current date: datetime('now').",
}

// EngineRules returns the default rules text for engine, or "" if unknown.
func EngineRules(engine config.Engine) string {
	return engineRules[engine]
}
