// Package config holds the process-wide configuration recognized by the
// orchestrator (spec §6.4): target engine selection, cache behavior,
// concurrency bounds, and per-connector connection parameters.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Engine identifies a supported SQL backend dialect.
type Engine string

const (
	EngineTSQL       Engine = "tsql"
	EnginePostgres   Engine = "postgres"
	EngineSnowflake  Engine = "snowflake"
	EngineDatabricks Engine = "databricks"
	EngineSQLite     Engine = "sqlite"
)

func (e Engine) Valid() bool {
	switch e {
	case EngineTSQL, EnginePostgres, EngineSnowflake, EngineDatabricks, EngineSQLite:
		return true
	default:
		return false
	}
}

// CacheWriteStrategy controls when a successful Run is written back into the
// query cache (spec §4.10 write-through policy).
type CacheWriteStrategy string

const (
	CacheWriteAlways               CacheWriteStrategy = "always"
	CacheWriteNever                CacheWriteStrategy = "never"
	CacheWritePositiveFeedbackOnly CacheWriteStrategy = "positive_feedback_only"
	CacheWriteOfflineBatch         CacheWriteStrategy = "offline_batch"
)

func (s CacheWriteStrategy) Valid() bool {
	switch s {
	case CacheWriteAlways, CacheWriteNever, CacheWritePositiveFeedbackOnly, CacheWriteOfflineBatch:
		return true
	default:
		return false
	}
}

// ConnectorParams carries per-engine connection parameters. Only the fields
// relevant to TargetEngine need to be populated.
type ConnectorParams struct {
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	Warehouse      string
	Schema         string
	HTTPPath       string // Databricks SQL warehouse HTTP path
	AccessToken    string // Databricks / Snowflake PAT
	Account        string // Snowflake account identifier
	FilePath       string // SQLite file path
	ConnectTimeout time.Duration
}

// Config is the process-wide configuration described in spec §6.4.
// It is deliberately a flat, validated struct in the teacher's idiom
// (see qdrant.VectorStoreConfig.Validate) rather than a generic key-value
// bag, so every option is typed and defaulted in one place.
type Config struct {
	UseCase                       string
	TargetEngine                  Engine
	EngineSpecificRules           string
	RowLimit                      int
	RowLimitHardCap               int
	UseQueryCache                 bool
	PreRunQueryCache              bool
	CacheWriteStrategy            CacheWriteStrategy
	UseColumnValueStore           bool
	GenerateFollowUpSuggestions   bool
	CacheHitThreshold             float64
	MaxMessages                   int
	MaxParallelSubquestions       int
	RunTimeout                    time.Duration
	ToolTimeout                   time.Duration
	MaxCorrectionAttempts         int
	MaxGenerationValidationRetries int
	ToolRetries                   int
	ToolCallRateLimit             float64 // max tool calls per second, backstop ahead of ToolTimeout
	Connector                     ConnectorParams
}

// Validate normalizes defaults and rejects out-of-range values. It mirrors
// the teacher's pattern of mutating the receiver with defaults and returning
// a single descriptive error on the first violation found.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: config is nil")
	}
	if c.UseCase == "" {
		c.UseCase = "general purpose business intelligence over a relational warehouse"
	}
	if !c.TargetEngine.Valid() {
		return fmt.Errorf("config: unsupported target engine %q", c.TargetEngine)
	}
	if c.RowLimitHardCap <= 0 {
		c.RowLimitHardCap = 10000
	}
	if c.RowLimit == 0 {
		c.RowLimit = 100
	}
	if c.RowLimit < 0 {
		return errors.New("config: row_limit must not be negative")
	}
	if c.RowLimit > c.RowLimitHardCap {
		c.RowLimit = c.RowLimitHardCap
	}
	if c.CacheWriteStrategy == "" {
		c.CacheWriteStrategy = CacheWriteAlways
	}
	if !c.CacheWriteStrategy.Valid() {
		return fmt.Errorf("config: unsupported cache write strategy %q", c.CacheWriteStrategy)
	}
	if c.CacheHitThreshold <= 0 {
		c.CacheHitThreshold = 0.85
	}
	if c.MaxMessages <= 0 {
		c.MaxMessages = 20
	}
	if c.MaxParallelSubquestions <= 0 {
		c.MaxParallelSubquestions = 4
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 300 * time.Second
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 60 * time.Second
	}
	if c.MaxCorrectionAttempts <= 0 {
		c.MaxCorrectionAttempts = 5
	}
	if c.MaxGenerationValidationRetries <= 0 {
		c.MaxGenerationValidationRetries = 2
	}
	if c.ToolRetries <= 0 {
		c.ToolRetries = 3
	}
	if c.ToolCallRateLimit <= 0 {
		c.ToolCallRateLimit = 5
	}
	return nil
}

// RowLimitRejected reports whether a requested row limit must be rejected
// outright at configuration time (spec §8 boundary behavior: row_limit = 0
// is rejected), as distinct from RowLimit's own zero-means-default handling
// above for the process config. Callers that accept a per-request override
// should use this, not Validate, so that an explicit zero is an error.
func RowLimitRejected(requested int) bool {
	return requested == 0
}

// Load reads process configuration from environment variables, optionally
// preceded by a .env file (the teacher's pack favors godotenv for local
// development; see codeready-toolchain-tarsy). Missing optional variables
// fall back to Config.Validate's defaults.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: failed to load env file: %w", err)
		}
	}

	cfg := &Config{
		UseCase:                     os.Getenv("TEXT2SQL_USE_CASE"),
		TargetEngine:                Engine(os.Getenv("TEXT2SQL_TARGET_ENGINE")),
		EngineSpecificRules:         os.Getenv("TEXT2SQL_ENGINE_RULES"),
		RowLimit:                    envInt("TEXT2SQL_ROW_LIMIT", 0),
		UseQueryCache:               envBool("TEXT2SQL_USE_QUERY_CACHE", true),
		PreRunQueryCache:            envBool("TEXT2SQL_PRE_RUN_QUERY_CACHE", true),
		CacheWriteStrategy:          CacheWriteStrategy(os.Getenv("TEXT2SQL_CACHE_WRITE_STRATEGY")),
		UseColumnValueStore:         envBool("TEXT2SQL_USE_COLUMN_VALUE_STORE", true),
		GenerateFollowUpSuggestions: envBool("TEXT2SQL_FOLLOW_UP_SUGGESTIONS", false),
		CacheHitThreshold:           envFloat("TEXT2SQL_CACHE_HIT_THRESHOLD", 0),
		MaxMessages:                 envInt("TEXT2SQL_MAX_MESSAGES", 0),
		MaxParallelSubquestions:     envInt("TEXT2SQL_MAX_PARALLEL_SUBQUESTIONS", 0),
		RunTimeout:                  envDuration("TEXT2SQL_RUN_TIMEOUT_SECONDS", 0),
		ToolTimeout:                 envDuration("TEXT2SQL_TOOL_TIMEOUT_SECONDS", 0),
		ToolCallRateLimit:           envFloat("TEXT2SQL_TOOL_CALL_RATE_LIMIT", 0),
		Connector: ConnectorParams{
			Host:        os.Getenv("TEXT2SQL_DB_HOST"),
			Port:        envInt("TEXT2SQL_DB_PORT", 0),
			User:        os.Getenv("TEXT2SQL_DB_USER"),
			Password:    os.Getenv("TEXT2SQL_DB_PASSWORD"),
			Database:    os.Getenv("TEXT2SQL_DB_NAME"),
			Warehouse:   os.Getenv("TEXT2SQL_DB_WAREHOUSE"),
			Schema:      os.Getenv("TEXT2SQL_DB_SCHEMA"),
			HTTPPath:    os.Getenv("TEXT2SQL_DB_HTTP_PATH"),
			AccessToken: os.Getenv("TEXT2SQL_DB_ACCESS_TOKEN"),
			Account:     os.Getenv("TEXT2SQL_DB_ACCOUNT"),
			FilePath:    os.Getenv("TEXT2SQL_DB_FILE_PATH"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallbackSeconds int) time.Duration {
	n := envInt(key, fallbackSeconds)
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
