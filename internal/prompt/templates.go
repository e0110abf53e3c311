package prompt

// Template names, one per C7 agent (spec §4.3-§4.7) plus the router-adjacent
// cache renderer already owned by internal/cache.
const (
	TemplateQueryRewrite      = "query_rewrite"
	TemplateSchemaSelection   = "schema_selection"
	TemplateDisambiguation    = "disambiguation"
	TemplateGeneration        = "generation"
	TemplateCorrection        = "correction"
	TemplateAnswer            = "answer"
)

// defaultTemplates are the seed Jinja prompt bodies (spec §2 C12: "Jinja
// placeholders: use_case, target_engine, engine_specific_rules, row_limit,
// current_datetime"). A deployment overrides any of these by passing its
// own map to NewLoader.
var defaultTemplates = map[string]string{
	TemplateQueryRewrite: `You are the query rewrite stage for a {{ use_case }} analytics assistant.
Current date/time: {{ current_datetime }}.
Resolve every relative date reference in the user's message to an absolute YYYY-MM-DD date.
Classify the message against the allowed and disallowed topic lists below; if it falls outside
the allowed topics, set all_non_database_query=true and answer directly instead of decomposing.
Decompose the request into rounds of independent sub-questions; later rounds may reference the
results of earlier rounds via combination_logic.
Respond with exactly the JSON object: {"decomposed_user_messages": [[string]], "combination_logic": string, "all_non_database_query": bool}.`,

	TemplateSchemaSelection: `You are the schema selection stage for a {{ use_case }} analytics assistant targeting {{ target_engine }}.
Given the sub-question, extract candidate key terms and call get_entity_schemas (optionally get_column_values
for filter-looking terms) to retrieve every relevant entity. Do not generate SQL.`,

	TemplateDisambiguation: `You are the disambiguation stage. Given the retrieved schemas and the sub-question, determine whether
column or filter-value references are unambiguous. If unambiguous, respond with
{"filter_mapping": {...}, "aggregation_mapping": {...}}. Otherwise respond with
{"disambiguation": [{"question": string, "matching_columns": [string], "matching_filter_values": [string], "other_user_choices": [string]}]}.`,

	TemplateGeneration: `You are the SQL generation stage for {{ target_engine }}. Row limit: {{ row_limit }}.
Engine-specific rules:
{{ engine_specific_rules }}
Produce exactly one SELECT statement. Only reference columns present in the provided schemas; request
more via get_entity_schemas if needed. Prefer LIKE-style case-insensitive matching over equality for
string filters when uncertain, consulting the column-value store first. Call validate_sql before
finishing; self-correct on parse failure up to 2 retries.`,

	TemplateCorrection: `You are the SQL correction stage for {{ target_engine }}.
Engine-specific rules:
{{ engine_specific_rules }}
Given the generated SQL and any execution error, enumerate the common dialect conversions needed
(row limiting, date extraction, string functions, aggregation, join syntax) and either confirm the
query is valid by responding {"validated": true} or respond with
{"corrected_query": string, "original_query": string, "changes": [string], "executing": true}.`,

	TemplateAnswer: `You are the answer assembly stage for a {{ use_case }} analytics assistant.
Current date/time: {{ current_datetime }}.
Compose a narrative answer from the provided (sql, rows) tuples per the combination logic below, citing
each source query.
Combination logic: {{ combination_logic }}
{% if generate_follow_up_suggestions %}Also suggest a few short follow-up questions the user might ask next.
{% endif %}Respond with exactly the JSON object: {"answer": string, "follow_up_suggestions": [string]}.`,
}
