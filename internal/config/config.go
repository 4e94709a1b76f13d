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
	Pipeline      PipelineConfig
	Schema        SchemaConfig
	AI            AIConfig
	History       HistoryConfig
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

// StoreConfig describes the MySQL analytics store the pipeline reads from.
type StoreConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	PoolSize        int
	MaxIdleConns    int
	AcquireTimeout  time.Duration
	WaitTimeout     time.Duration
	ConnectTimeout  time.Duration
	QueryTimeout    time.Duration
	ConnMaxLifetime time.Duration
	Charset         string
	TLS             string
}

type PipelineConfig struct {
	MaxRegenerationAttempts int
	DefaultLimit            int
	RowCap                  int
	AllowWrites             bool
	Retries                 int
	RetryBackoff            time.Duration
}

type SchemaConfig struct {
	CacheTTL          time.Duration
	DefaultSampleRows int
}

type AIConfig struct {
	GenerateEnabled bool
	BaseURL         string
	APIKey          string
	Model           string
	Temperature     float64
	Timeout         time.Duration
}

type HistoryConfig struct {
	Enabled         bool
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	lookup := LookupFunc(os.LookupEnv)
	if path, ok := os.LookupEnv("QUERYGATE_CONFIG_FILE"); ok && strings.TrimSpace(path) != "" {
		fileLookup, err := LoadFile(strings.TrimSpace(path))
		if err != nil {
			return Config{}, err
		}
		lookup = Layered(lookup, fileLookup)
	}
	return Load(serviceName, lookup)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("QUERYGATE_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid QUERYGATE_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "QUERYGATE_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "QUERYGATE_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "QUERYGATE_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "QUERYGATE_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "QUERYGATE_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },

		func() error { return applyString(lookup, "QUERYGATE_STORE_HOST", &cfg.Store.Host) },
		func() error { return applyInt(lookup, "QUERYGATE_STORE_PORT", &cfg.Store.Port) },
		func() error { return applyString(lookup, "QUERYGATE_STORE_USER", &cfg.Store.User) },
		func() error { return applyString(lookup, "QUERYGATE_STORE_PASSWORD", &cfg.Store.Password) },
		func() error { return applyString(lookup, "QUERYGATE_STORE_DATABASE", &cfg.Store.Database) },
		func() error { return applyInt(lookup, "QUERYGATE_STORE_POOL_SIZE", &cfg.Store.PoolSize) },
		func() error { return applyInt(lookup, "QUERYGATE_STORE_MAX_IDLE_CONNS", &cfg.Store.MaxIdleConns) },
		func() error { return applyDuration(lookup, "QUERYGATE_STORE_ACQUIRE_TIMEOUT", &cfg.Store.AcquireTimeout) },
		func() error { return applyDuration(lookup, "QUERYGATE_STORE_WAIT_TIMEOUT", &cfg.Store.WaitTimeout) },
		func() error { return applyDuration(lookup, "QUERYGATE_STORE_CONNECT_TIMEOUT", &cfg.Store.ConnectTimeout) },
		func() error { return applyDuration(lookup, "QUERYGATE_STORE_QUERY_TIMEOUT", &cfg.Store.QueryTimeout) },
		func() error { return applyDuration(lookup, "QUERYGATE_STORE_CONN_MAX_LIFETIME", &cfg.Store.ConnMaxLifetime) },
		func() error { return applyString(lookup, "QUERYGATE_STORE_CHARSET", &cfg.Store.Charset) },
		func() error { return applyString(lookup, "QUERYGATE_STORE_TLS", &cfg.Store.TLS) },

		func() error {
			return applyInt(lookup, "QUERYGATE_PIPELINE_MAX_REGENERATION_ATTEMPTS", &cfg.Pipeline.MaxRegenerationAttempts)
		},
		func() error { return applyInt(lookup, "QUERYGATE_PIPELINE_DEFAULT_LIMIT", &cfg.Pipeline.DefaultLimit) },
		func() error { return applyInt(lookup, "QUERYGATE_PIPELINE_ROW_CAP", &cfg.Pipeline.RowCap) },
		func() error { return applyBool(lookup, "QUERYGATE_PIPELINE_ALLOW_WRITES", &cfg.Pipeline.AllowWrites) },
		func() error { return applyInt(lookup, "QUERYGATE_PIPELINE_RETRIES", &cfg.Pipeline.Retries) },
		func() error { return applyDuration(lookup, "QUERYGATE_PIPELINE_RETRY_BACKOFF", &cfg.Pipeline.RetryBackoff) },

		func() error { return applyDuration(lookup, "QUERYGATE_SCHEMA_CACHE_TTL", &cfg.Schema.CacheTTL) },
		func() error { return applyInt(lookup, "QUERYGATE_SCHEMA_DEFAULT_SAMPLE_ROWS", &cfg.Schema.DefaultSampleRows) },

		func() error { return applyBool(lookup, "QUERYGATE_AI_GENERATE_ENABLED", &cfg.AI.GenerateEnabled) },
		func() error { return applyString(lookup, "QUERYGATE_AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applyString(lookup, "QUERYGATE_AI_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "QUERYGATE_AI_MODEL", &cfg.AI.Model) },
		func() error { return applyFloat(lookup, "QUERYGATE_AI_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyDuration(lookup, "QUERYGATE_AI_TIMEOUT", &cfg.AI.Timeout) },

		func() error { return applyBool(lookup, "QUERYGATE_HISTORY_ENABLED", &cfg.History.Enabled) },
		func() error { return applyString(lookup, "QUERYGATE_HISTORY_DSN", &cfg.History.DSN) },
		func() error { return applyInt(lookup, "QUERYGATE_HISTORY_MAX_OPEN_CONNS", &cfg.History.MaxOpenConns) },
		func() error { return applyInt(lookup, "QUERYGATE_HISTORY_MAX_IDLE_CONNS", &cfg.History.MaxIdleConns) },
		func() error {
			return applyDuration(lookup, "QUERYGATE_HISTORY_CONN_MAX_IDLE_TIME", &cfg.History.ConnMaxIdleTime)
		},
		func() error {
			return applyDuration(lookup, "QUERYGATE_HISTORY_CONN_MAX_LIFETIME", &cfg.History.ConnMaxLifetime)
		},

		func() error { return applyBool(lookup, "QUERYGATE_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "QUERYGATE_LOG_LEVEL", &cfg.Observability.LogLevel) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Store.PoolSize <= 0 {
		return Config{}, fmt.Errorf("store pool size must be positive")
	}
	if cfg.Pipeline.MaxRegenerationAttempts < 0 || cfg.Pipeline.MaxRegenerationAttempts > 3 {
		return Config{}, fmt.Errorf("pipeline max regeneration attempts must be within [0,3], got %d", cfg.Pipeline.MaxRegenerationAttempts)
	}
	if cfg.Pipeline.RowCap <= 0 {
		return Config{}, fmt.Errorf("pipeline row cap must be positive")
	}
	if cfg.History.Enabled && cfg.History.DSN == "" {
		return Config{}, fmt.Errorf("history dsn is required when history is enabled")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "querygate-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Store: StoreConfig{
			Host:            "localhost",
			Port:            3306,
			User:            "querygate",
			Password:        "",
			Database:        "analytics",
			PoolSize:        10,
			MaxIdleConns:    10,
			AcquireTimeout:  10 * time.Second,
			WaitTimeout:     60 * time.Second,
			ConnectTimeout:  10 * time.Second,
			QueryTimeout:    30 * time.Second,
			ConnMaxLifetime: 30 * time.Minute,
			Charset:         "utf8mb4",
			TLS:             "false",
		},
		Pipeline: PipelineConfig{
			MaxRegenerationAttempts: 2,
			DefaultLimit:            100,
			RowCap:                  100,
			AllowWrites:             false,
			Retries:                 3,
			RetryBackoff:            100 * time.Millisecond,
		},
		Schema: SchemaConfig{
			CacheTTL:          5 * time.Minute,
			DefaultSampleRows: 5,
		},
		AI: AIConfig{
			GenerateEnabled: false,
			BaseURL:         "https://api.openai.com",
			Model:           "gpt-5",
			Temperature:     0.1,
			Timeout:         30 * time.Second,
		},
		History: HistoryConfig{
			Enabled:         false,
			MaxOpenConns:    5,
			MaxIdleConns:    5,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Store.TLS = "preferred"
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
