package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"basegraph.app/courier/core/db"
)

type Config struct {
	OTel     OTelConfig
	Queue    QueueConfig
	Ledger   LedgerConfig
	Retry    RetryConfig
	Health   HealthConfig
	Context  ContextConfig
	Reasoner LLMConfig
	Platform PlatformConfig
	Redis    RedisConfig
	Audit    AuditConfig
	Admin    AdminConfig
	Pipeline PipelineConfig
	Env      string
	LogLvl   string
	Port     string
	NodeID   int64
	DB       db.Config
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

type QueueConfig struct {
	Dir             string
	PriorityAuthors []string
	RepairGrace     time.Duration
	NotesPath       string
}

type LedgerConfig struct {
	// DSN selects the backend by scheme: sqlite://, postgres://, redis://, arangodb://, memory://
	DSN       string
	Retention time.Duration
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

type HealthConfig struct {
	Window             int
	MinSamples         int
	ErrorRateThreshold float64
	BacklogThreshold   int
	RepairInterval     time.Duration
}

type ContextConfig struct {
	MaxDepth      int
	MaxChars      int
	StopCommand   string
	KnownBots     []string
	KnownBotsFile string
	SelfHandle    string
}

type LLMConfig struct {
	Provider        string // "openai" or "anthropic"
	APIKey          string
	BaseURL         string // Optional: for custom endpoints
	Model           string
	MaxTokens       int
	ReasoningEffort string // Optional: "low", "medium", "high" for reasoning models
	Timeout         time.Duration
}

type PlatformConfig struct {
	Kind   string // "gitlab", "stream" or "memory"
	GitLab GitLabConfig
	Stream StreamConfig
}

type GitLabConfig struct {
	BaseURL  string
	Token    string
	Username string
}

type StreamConfig struct {
	Name          string
	InboxStream   string
	OutboxStream  string
	BatchSize     int64
	Block         time.Duration
	MaxPostLength int
}

type RedisConfig struct {
	URL                 string
	StatusStreamMaxLen  int64
	StatusStreamPrefix  string
	StatusStreamEnabled bool
}

type AuditConfig struct {
	Postgres bool
}

type AdminConfig struct {
	Port   string
	APIKey string
}

type PipelineConfig struct {
	PollInterval    time.Duration
	Workers         int
	ReclaimInterval time.Duration
	PruneInterval   time.Duration
	WatchQueue      bool
	ShutdownTimeout time.Duration
}

type ServiceType string

const (
	ServiceTypeServer ServiceType = "server"
	ServiceTypeWorker ServiceType = "worker"
	ServiceTypeCLI    ServiceType = "cli"
)

// Load loads configuration from environment variables.
// In development, it loads from service-specific .env files:
//   - .env.server for the ingest server
//   - .env.worker for the pipeline worker
//   - .env.cli for queuectl
//
// Falls back to .env if service-specific file doesn't exist.
func Load(serviceType ServiceType) (Config, error) {
	if getEnv("COURIER_ENV", "development") == "development" {
		envFile := fmt.Sprintf(".env.%s", serviceType)
		if err := godotenv.Load(envFile); err != nil {
			_ = godotenv.Load(".env")
		}
	}

	queueDir := getEnv("QUEUE_DIR", "./data/queue")

	cfg := Config{
		Env:    getEnv("COURIER_ENV", "development"),
		LogLvl: getEnv("LOG_LEVEL", ""),
		Port:   getEnv("PORT", "8080"),
		NodeID: int64(getEnvInt("NODE_ID", 1)),
		DB: db.Config{
			DSN:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvInt32("DB_MAX_CONNS", 10),
			MinConns: getEnvInt32("DB_MIN_CONNS", 2),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "courier-"+string(serviceType)),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		Queue: QueueConfig{
			Dir:             queueDir,
			PriorityAuthors: getEnvList("PRIORITY_AUTHORS"),
			RepairGrace:     getEnvDuration("QUEUE_REPAIR_GRACE", 24*time.Hour),
			NotesPath:       getEnv("NOTES_PATH", strings.TrimSuffix(queueDir, "/")+"/notes.db"),
		},
		Ledger: LedgerConfig{
			DSN: getEnv("LEDGER_DSN", "sqlite://"+strings.TrimSuffix(queueDir, "/")+"/ledger.db"),
			// Assumes the platform cursor never re-delivers an id older than this.
			Retention: getEnvDuration("LEDGER_RETENTION", 7*24*time.Hour),
		},
		Retry: RetryConfig{
			MaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 5),
			BaseDelay:   getEnvDuration("RETRY_BASE_DELAY", 30*time.Second),
			MaxDelay:    getEnvDuration("RETRY_MAX_DELAY", 30*time.Minute),
		},
		Health: HealthConfig{
			Window:             getEnvInt("HEALTH_WINDOW", 50),
			MinSamples:         getEnvInt("HEALTH_MIN_SAMPLES", 5),
			ErrorRateThreshold: getEnvFloat("HEALTH_ERROR_RATE_THRESHOLD", 0.2),
			BacklogThreshold:   getEnvInt("HEALTH_BACKLOG_THRESHOLD", 1000),
			RepairInterval:     getEnvDuration("HEALTH_REPAIR_INTERVAL", 30*time.Second),
		},
		Context: ContextConfig{
			MaxDepth:      getEnvInt("CONTEXT_MAX_DEPTH", 40),
			MaxChars:      getEnvInt("CONTEXT_MAX_CHARS", 12000),
			StopCommand:   strings.ToLower(getEnv("STOP_COMMAND", "#courierstop")),
			KnownBots:     getEnvList("KNOWN_BOTS"),
			KnownBotsFile: getEnv("KNOWN_BOTS_FILE", ""),
			SelfHandle:    getEnv("SELF_HANDLE", ""),
		},
		Reasoner: LLMConfig{
			Provider:        getEnv("REASONER_LLM_PROVIDER", "openai"),
			APIKey:          getEnv("REASONER_LLM_API_KEY", ""),
			BaseURL:         getEnv("REASONER_LLM_BASE_URL", ""),
			Model:           getEnv("REASONER_LLM_MODEL", "gpt-4o-mini"),
			MaxTokens:       getEnvInt("REASONER_LLM_MAX_TOKENS", 2048),
			ReasoningEffort: getEnv("REASONER_LLM_REASONING_EFFORT", ""),
			Timeout:         getEnvDuration("REASONER_TIMEOUT", 90*time.Second),
		},
		Platform: PlatformConfig{
			Kind: getEnv("PLATFORM", "stream"),
			GitLab: GitLabConfig{
				BaseURL:  getEnv("GITLAB_BASE_URL", ""),
				Token:    getEnv("GITLAB_TOKEN", ""),
				Username: getEnv("GITLAB_USERNAME", ""),
			},
			Stream: StreamConfig{
				Name:          getEnv("STREAM_PLATFORM_NAME", "stream"),
				InboxStream:   getEnv("STREAM_INBOX", "courier-inbox"),
				OutboxStream:  getEnv("STREAM_OUTBOX", "courier-outbox"),
				BatchSize:     int64(getEnvInt("STREAM_BATCH_SIZE", 50)),
				Block:         getEnvDuration("STREAM_BLOCK", 2*time.Second),
				MaxPostLength: getEnvInt("STREAM_MAX_POST_LENGTH", 300),
			},
		},
		Redis: RedisConfig{
			URL:                 getEnv("REDIS_URL", "redis://localhost:6379/0"),
			StatusStreamMaxLen:  int64(getEnvInt("STATUS_STREAM_MAX_LEN", 2000)),
			StatusStreamPrefix:  getEnv("STATUS_STREAM_PREFIX", "courier-status"),
			StatusStreamEnabled: getEnvBool("STATUS_STREAM_ENABLED", true),
		},
		Audit: AuditConfig{
			Postgres: getEnvBool("AUDIT_POSTGRES", false),
		},
		Admin: AdminConfig{
			Port:   getEnv("ADMIN_PORT", "8081"),
			APIKey: getEnv("ADMIN_API_KEY", ""),
		},
		Pipeline: PipelineConfig{
			PollInterval:    getEnvDuration("POLL_INTERVAL", 15*time.Second),
			Workers:         getEnvInt("WORKERS", 1),
			ReclaimInterval: getEnvDuration("RECLAIM_INTERVAL", time.Minute),
			PruneInterval:   getEnvDuration("LEDGER_PRUNE_INTERVAL", time.Hour),
			WatchQueue:      getEnvBool("WATCH_QUEUE", true),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
	}

	if cfg.Pipeline.Workers < 1 {
		return Config{}, fmt.Errorf("WORKERS must be at least 1")
	}

	if cfg.Retry.MaxAttempts < 1 {
		return Config{}, fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}

	if serviceType == ServiceTypeWorker && cfg.Platform.Kind == "gitlab" && !cfg.Platform.GitLab.Enabled() {
		return Config{}, fmt.Errorf("GITLAB_TOKEN and GITLAB_USERNAME are required for the gitlab platform")
	}

	if cfg.Audit.Postgres && !cfg.DB.Enabled() {
		return Config{}, fmt.Errorf("DATABASE_URL is required when AUDIT_POSTGRES is set")
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// LogLevel honours LOG_LEVEL and otherwise logs debug in development.
func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(c.LogLvl) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	if c.IsDevelopment() {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c LLMConfig) Enabled() bool {
	return c.APIKey != "" && (c.Provider == "openai" || c.Provider == "anthropic")
}

func (c GitLabConfig) Enabled() bool {
	return c.Token != "" && c.Username != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt32(key string, fallback int32) int32 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(i)
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma separated variable, dropping empty entries.
func getEnvList(key string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
