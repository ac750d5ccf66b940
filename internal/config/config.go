// Package config loads the process-wide immutable configuration record
// consumed by cmd/server and cmd/worker: YAML file plus environment
// overrides for secrets, exactly as the teacher's LoadConfig/Validate pair
// does, generalized from Bitbucket/Jira/MCP knobs to the review pipeline's
// aggregation/queue/context/diff/prompt/resilience knobs from spec §6.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultMaxBodySize int64 = 2 * 1024 * 1024 // 2MB
	DefaultConfigPath        = "config.yaml"
)

// RotationConfig configures lumberjack log rotation when Log.Output names
// a file path rather than stdout/stderr.
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"` // megabytes
	MaxBackups int  `yaml:"max_backups"`
	MaxAge     int  `yaml:"max_age"` // days
	Compress   bool `yaml:"compress"`
}

// StorageConfig configures the Review Store's backing engine.
type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite
	DSN    string `yaml:"dsn"`
}

// AggregationConfig mirrors spec §6's aggregation.* knobs (C8).
type AggregationConfig struct {
	MinConfidence        float64 `yaml:"min_confidence"`
	MaxIssuesPerFile      int     `yaml:"max_issues_per_file"`
	DeduplicationEnabled  bool    `yaml:"deduplication_enabled"`
}

// QueueConfig mirrors spec §6's queue.* knobs (C10).
type QueueConfig struct {
	StreamName  string        `yaml:"stream_name"`
	GroupName   string        `yaml:"group_name"`
	BatchSize   int           `yaml:"batch_size"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
	Retention   time.Duration `yaml:"retention"`
	Workers     int           `yaml:"workers"`
}

// ContextConfig mirrors spec §6's context.* knobs plus the co-change
// strategy's lookback/commit cap (C3/C4).
type ContextConfig struct {
	StrategyDeadline     time.Duration `yaml:"strategy_deadline"`
	TopK                 int           `yaml:"top_k"`
	CoChangeLookbackDays int           `yaml:"co_change_lookback_days"`
	CoChangeMaxCommits   int           `yaml:"co_change_max_commits"`
}

// DiffExpandConfig mirrors spec §6's diff.expand.* knobs (C5).
type DiffExpandConfig struct {
	MaxFiles int      `yaml:"max_files"`
	MaxLines int      `yaml:"max_lines"`
	AllowExt []string `yaml:"allow_ext"`
	DenyExt  []string `yaml:"deny_ext"`
}

// PolicyConfig mirrors the Policy Provider's per-document char budget.
type PolicyConfig struct {
	MaxChars int `yaml:"max_chars"`
}

// PromptConfig mirrors spec §6's prompt.char_budget knob (C6).
type PromptConfig struct {
	CharBudget int `yaml:"char_budget"`
}

// LLMConfig configures the streaming adapter's model/endpoint/timeout (C7).
type LLMConfig struct {
	Model         string        `yaml:"model"`
	Endpoint      string        `yaml:"endpoint"`
	APIKey        string        `yaml:"api_key"` // from YAML or env
	Timeout       time.Duration `yaml:"timeout"`
	SchemaRetries int           `yaml:"schema_retries"`
}

// ResilienceConfig mirrors spec §6's documented per-call timeouts (C13).
type ResilienceConfig struct {
	SCMTimeout    time.Duration `yaml:"scm_timeout"`
	DBTimeout     time.Duration `yaml:"db_timeout"`
	HealthTimeout time.Duration `yaml:"health_timeout"`
}

// Config holds the process-wide configuration for the review pipeline.
type Config struct {
	Log struct {
		Level    string          `yaml:"level"`  // DEBUG, INFO, WARN, ERROR
		Format   string          `yaml:"format"` // text, json
		Output   string          `yaml:"output"` // stdout, stderr, comma-joined, or /path/to/file
		Rotation RotationConfig  `yaml:"rotation"`
	} `yaml:"log"`

	Server struct {
		Port          int           `yaml:"port"`
		ReadTimeout   time.Duration `yaml:"read_timeout"`
		WriteTimeout  time.Duration `yaml:"write_timeout"`
		MaxBodySize   int64         `yaml:"max_body_size"`
		PipelineDeadline time.Duration `yaml:"pipeline_deadline"` // per-request deadline, spec §4.9 default 10min
	} `yaml:"server"`

	LLM          LLMConfig          `yaml:"llm"`
	Aggregation  AggregationConfig  `yaml:"aggregation"`
	Queue        QueueConfig        `yaml:"queue"`
	Context      ContextConfig      `yaml:"context"`
	Diff         struct {
		Expand DiffExpandConfig `yaml:"expand"`
	} `yaml:"diff"`
	Policy     PolicyConfig     `yaml:"policy"`
	Prompt     PromptConfig     `yaml:"prompt"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Storage    StorageConfig    `yaml:"storage"`

	RedisAddr string `yaml:"-"` // from env only, never logged/serialized
}

// GetLogLevel returns the slog.Level for the configured Log.Level string.
func (c *Config) GetLogLevel() slog.Level {
	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadConfig loads configuration from a YAML file (CONFIG_PATH, default
// "config.yaml") and supplements/overrides it with environment variables.
// A local .env file is loaded first via godotenv, mirroring the teacher's
// cmd/server startup sequence; a missing .env is not an error.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{}
	applyDefaults(cfg)

	configPath := getEnv("CONFIG_PATH", DefaultConfigPath)
	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			slog.Error("unmarshal config failed", "error", err, "path", configPath)
			os.Exit(1)
		}
		slog.Info("config loaded", "path", configPath)
	} else {
		if !os.IsNotExist(err) {
			slog.Error("read config failed", "error", err, "path", configPath)
			os.Exit(1)
		}
		slog.Info("config not found, using defaults", "path", configPath)
	}

	cfg.LLM.APIKey = getEnv("LLM_API_KEY", cfg.LLM.APIKey)
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")

	if envPort := getEnvInt("PORT", 0); envPort != 0 {
		cfg.Server.Port = envPort
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("LOG_OUTPUT"); v != "" {
		cfg.Log.Output = v
	}

	return cfg
}

// applyDefaults seeds cfg with the defaults documented in spec §6 before
// the YAML file (if any) overrides them.
func applyDefaults(cfg *Config) {
	cfg.Log.Level = "INFO"
	cfg.Log.Format = "text"
	cfg.Log.Output = "stdout"
	cfg.Log.Rotation = RotationConfig{MaxSize: 100, MaxBackups: 3, MaxAge: 28, Compress: true}

	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.WriteTimeout = 2 * time.Minute // SSE streams run long
	cfg.Server.MaxBodySize = DefaultMaxBodySize
	cfg.Server.PipelineDeadline = 10 * time.Minute

	cfg.LLM = LLMConfig{
		Endpoint:      "https://api.openai.com/v1",
		Model:         "gpt-4o",
		Timeout:       120 * time.Second,
		SchemaRetries: 1,
	}

	cfg.Aggregation = AggregationConfig{MinConfidence: 0.7, MaxIssuesPerFile: 10, DeduplicationEnabled: true}

	cfg.Queue = QueueConfig{
		StreamName:  "review:agent-requests",
		GroupName:   "agent-workers",
		BatchSize:   1,
		PollTimeout: 5 * time.Second,
		Retention:   24 * time.Hour,
		Workers:     4,
	}

	cfg.Context = ContextConfig{
		StrategyDeadline:     5 * time.Second,
		TopK:                 20,
		CoChangeLookbackDays: 90,
		CoChangeMaxCommits:   500,
	}

	cfg.Diff.Expand = DiffExpandConfig{MaxFiles: 20, MaxLines: 500}
	cfg.Policy = PolicyConfig{MaxChars: 4000}
	cfg.Prompt = PromptConfig{CharBudget: 60000}

	cfg.Resilience = ResilienceConfig{
		SCMTimeout:    30 * time.Second,
		DBTimeout:     10 * time.Second,
		HealthTimeout: 5 * time.Second,
	}

	cfg.Storage = StorageConfig{Driver: "sqlite", DSN: "reviews.db"}
}

// Validate checks required fields and sane ranges, mirroring the teacher's
// Validate.
func (c *Config) Validate() error {
	var errs []string

	if c.LLM.APIKey == "" {
		errs = append(errs, "LLM_API_KEY is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid server port: %d", c.Server.Port))
	}
	if c.Aggregation.MinConfidence < 0 || c.Aggregation.MinConfidence > 1 {
		errs = append(errs, "aggregation.min_confidence must be within [0,1]")
	}
	if c.Queue.StreamName == "" || c.Queue.GroupName == "" {
		errs = append(errs, "queue.stream_name and queue.group_name are required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}
