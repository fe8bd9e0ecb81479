package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Store         StoreConfig
	LLM           LLMConfig
	Pipeline      PipelineConfig
	History       HistoryConfig
	ObjectStore   ObjectStoreConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type StoreConfig struct {
	Dialect         string
	DSN             string
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	Charset         string
	AllowedTables   []string
	ReadOnlyTx      bool
	StatementGuard  bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type LLMConfig struct {
	Provider          string
	BaseURL           string
	APIKey            string
	SQLModel          string
	AnswerModel       string
	SQLTemperature    float64
	AnswerTemperature float64
	SQLMaxTokens      int
	AnswerMaxTokens   int
	Timeout           time.Duration
	FallbackBaseURL   string
	FallbackModel     string
}

type PipelineConfig struct {
	HistoryWindow   int
	RowLimit        int
	ResultCharCap   int
	RetryBackoff    time.Duration
	ProvenanceLabel string
	PromptFile      string
	MaxSessions     int
}

type HistoryConfig struct {
	Capacity       int
	ArchiveEnabled bool
	FlushBatchSize int
	FlushInterval  time.Duration
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("SNSQA_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid SNSQA_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "SNSQA_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "SNSQA_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "SNSQA_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "SNSQA_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "SNSQA_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },

		func() error { return applyString(lookup, "SNSQA_STORE_DIALECT", &cfg.Store.Dialect) },
		func() error { return applyString(lookup, "SNSQA_STORE_DSN", &cfg.Store.DSN) },
		func() error { return applyString(lookup, "SNSQA_STORE_HOST", &cfg.Store.Host) },
		func() error { return applyInt(lookup, "SNSQA_STORE_PORT", &cfg.Store.Port) },
		func() error { return applyString(lookup, "SNSQA_STORE_USER", &cfg.Store.User) },
		func() error { return applyString(lookup, "SNSQA_STORE_PASSWORD", &cfg.Store.Password) },
		func() error { return applyString(lookup, "SNSQA_STORE_DATABASE", &cfg.Store.Database) },
		func() error { return applyString(lookup, "SNSQA_STORE_CHARSET", &cfg.Store.Charset) },
		func() error { return applyList(lookup, "SNSQA_STORE_ALLOWED_TABLES", &cfg.Store.AllowedTables) },
		func() error { return applyBool(lookup, "SNSQA_STORE_READ_ONLY_TX", &cfg.Store.ReadOnlyTx) },
		func() error { return applyBool(lookup, "SNSQA_STORE_STATEMENT_GUARD", &cfg.Store.StatementGuard) },
		func() error { return applyInt(lookup, "SNSQA_STORE_MAX_OPEN_CONNS", &cfg.Store.MaxOpenConns) },
		func() error { return applyInt(lookup, "SNSQA_STORE_MAX_IDLE_CONNS", &cfg.Store.MaxIdleConns) },
		func() error { return applyDuration(lookup, "SNSQA_STORE_CONN_MAX_IDLE_TIME", &cfg.Store.ConnMaxIdleTime) },
		func() error { return applyDuration(lookup, "SNSQA_STORE_CONN_MAX_LIFETIME", &cfg.Store.ConnMaxLifetime) },

		func() error { return applyString(lookup, "SNSQA_LLM_PROVIDER", &cfg.LLM.Provider) },
		func() error { return applyString(lookup, "SNSQA_LLM_BASE_URL", &cfg.LLM.BaseURL) },
		func() error { return applyString(lookup, "SNSQA_LLM_API_KEY", &cfg.LLM.APIKey) },
		func() error { return applyString(lookup, "SNSQA_LLM_SQL_MODEL", &cfg.LLM.SQLModel) },
		func() error { return applyString(lookup, "SNSQA_LLM_ANSWER_MODEL", &cfg.LLM.AnswerModel) },
		func() error { return applyFloat(lookup, "SNSQA_LLM_SQL_TEMPERATURE", &cfg.LLM.SQLTemperature) },
		func() error { return applyFloat(lookup, "SNSQA_LLM_ANSWER_TEMPERATURE", &cfg.LLM.AnswerTemperature) },
		func() error { return applyInt(lookup, "SNSQA_LLM_SQL_MAX_TOKENS", &cfg.LLM.SQLMaxTokens) },
		func() error { return applyInt(lookup, "SNSQA_LLM_ANSWER_MAX_TOKENS", &cfg.LLM.AnswerMaxTokens) },
		func() error { return applyDuration(lookup, "SNSQA_LLM_TIMEOUT", &cfg.LLM.Timeout) },
		func() error { return applyString(lookup, "SNSQA_LLM_FALLBACK_BASE_URL", &cfg.LLM.FallbackBaseURL) },
		func() error { return applyString(lookup, "SNSQA_LLM_FALLBACK_MODEL", &cfg.LLM.FallbackModel) },

		func() error { return applyInt(lookup, "SNSQA_PIPELINE_HISTORY_WINDOW", &cfg.Pipeline.HistoryWindow) },
		func() error { return applyInt(lookup, "SNSQA_PIPELINE_ROW_LIMIT", &cfg.Pipeline.RowLimit) },
		func() error { return applyInt(lookup, "SNSQA_PIPELINE_RESULT_CHAR_CAP", &cfg.Pipeline.ResultCharCap) },
		func() error { return applyDuration(lookup, "SNSQA_PIPELINE_RETRY_BACKOFF", &cfg.Pipeline.RetryBackoff) },
		func() error { return applyString(lookup, "SNSQA_PIPELINE_PROVENANCE_LABEL", &cfg.Pipeline.ProvenanceLabel) },
		func() error { return applyString(lookup, "SNSQA_PROMPT_FILE", &cfg.Pipeline.PromptFile) },
		func() error { return applyInt(lookup, "SNSQA_PIPELINE_MAX_SESSIONS", &cfg.Pipeline.MaxSessions) },

		func() error { return applyInt(lookup, "SNSQA_HISTORY_CAPACITY", &cfg.History.Capacity) },
		func() error { return applyBool(lookup, "SNSQA_HISTORY_ARCHIVE_ENABLED", &cfg.History.ArchiveEnabled) },
		func() error { return applyInt(lookup, "SNSQA_HISTORY_FLUSH_BATCH_SIZE", &cfg.History.FlushBatchSize) },
		func() error { return applyDuration(lookup, "SNSQA_HISTORY_FLUSH_INTERVAL", &cfg.History.FlushInterval) },

		func() error { return applyString(lookup, "SNSQA_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "SNSQA_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "SNSQA_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "SNSQA_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error { return applyString(lookup, "SNSQA_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey) },
		func() error { return applyBool(lookup, "SNSQA_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "SNSQA_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error { return applyBool(lookup, "SNSQA_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket) },

		func() error { return applyBool(lookup, "SNSQA_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "SNSQA_LOG_LEVEL", &cfg.Observability.LogLevel) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	// Provider-specific key variables apply when SNSQA_LLM_API_KEY is unset.
	if cfg.LLM.APIKey == "" {
		for _, key := range []string{"GROQ_API_KEY", "OPENAI_API_KEY"} {
			if raw, ok := lookup(key); ok && strings.TrimSpace(raw) != "" {
				cfg.LLM.APIKey = strings.TrimSpace(raw)
				break
			}
		}
	}

	// The write deadline covers a question that is retried once after a
	// rate limit, unless it is set explicitly.
	if _, ok := lookup("SNSQA_HTTP_WRITE_TIMEOUT"); !ok {
		cfg.HTTP.WriteTimeout = max(cfg.HTTP.WriteTimeout, cfg.QueryBudget()+writeTimeoutSlack)
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

const writeTimeoutSlack = 15 * time.Second

// QueryBudget is the longest a question can take: two attempts of SQL
// generation and answer synthesis, plus the retry backoff between them.
func (c Config) QueryBudget() time.Duration {
	return 2*(2*c.LLM.Timeout) + c.Pipeline.RetryBackoff
}

func validate(cfg Config) error {
	if cfg.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	switch cfg.Store.Dialect {
	case "mysql", "postgres", "duckdb", "sqlite":
	default:
		return fmt.Errorf("invalid SNSQA_STORE_DIALECT: %q", cfg.Store.Dialect)
	}
	if len(cfg.Store.AllowedTables) == 0 {
		return fmt.Errorf("at least one allowed table is required")
	}
	switch cfg.LLM.Provider {
	case "groq", "openai", "ollama":
	default:
		return fmt.Errorf("invalid SNSQA_LLM_PROVIDER: %q", cfg.LLM.Provider)
	}
	if cfg.Pipeline.HistoryWindow < 0 {
		return fmt.Errorf("history window must be >= 0")
	}
	if cfg.Pipeline.RowLimit <= 0 {
		return fmt.Errorf("row limit must be > 0")
	}
	if cfg.Pipeline.ResultCharCap <= 0 {
		return fmt.Errorf("result char cap must be > 0")
	}
	if cfg.Pipeline.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff must be >= 0")
	}
	if cfg.Pipeline.MaxSessions <= 0 {
		return fmt.Errorf("max sessions must be > 0")
	}
	if cfg.History.Capacity <= 0 {
		return fmt.Errorf("history capacity must be > 0")
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "snsqa-api"},
		HTTP: HTTPConfig{
			Address:      ":8000",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Store: StoreConfig{
			Dialect:         "mysql",
			Host:            "localhost",
			Port:            3307,
			User:            "root",
			Password:        "1234",
			Database:        "sns_content_analyzer",
			Charset:         "utf8mb4",
			AllowedTables:   []string{"analysis_results"},
			ReadOnlyTx:      true,
			StatementGuard:  true,
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		LLM: LLMConfig{
			Provider:          "groq",
			BaseURL:           "https://api.groq.com/openai/v1",
			SQLModel:          "llama-3.1-8b-instant",
			AnswerModel:       "llama-3.1-8b-instant",
			SQLTemperature:    0,
			AnswerTemperature: 0,
			SQLMaxTokens:      512,
			AnswerMaxTokens:   1024,
			Timeout:           30 * time.Second,
			FallbackBaseURL:   "http://localhost:11434/v1",
			FallbackModel:     "gemma2:2b",
		},
		Pipeline: PipelineConfig{
			HistoryWindow: 5,
			RowLimit:      5,
			ResultCharCap: 2000,
			RetryBackoff:  5 * time.Second,
			MaxSessions:   1000,
		},
		History: HistoryConfig{
			Capacity:       500,
			ArchiveEnabled: false,
			FlushBatchSize: 100,
			FlushInterval:  time.Minute,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "snsqa",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18000"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Pipeline.RetryBackoff = 0
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyList(lookup LookupFunc, key string, dst *[]string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	values := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			values = append(values, part)
		}
	}
	*dst = values
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
