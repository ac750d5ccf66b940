package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"LLM_API_KEY", "PORT", "LOG_LEVEL", "LOG_FORMAT", "LOG_OUTPUT", "CONFIG_PATH", "REDIS_ADDR"} {
		os.Unsetenv(k)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := LoadConfig()

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	require.EqualValues(t, 2*1024*1024, cfg.Server.MaxBodySize)
	require.Equal(t, 0.7, cfg.Aggregation.MinConfidence)
	require.Equal(t, 10, cfg.Aggregation.MaxIssuesPerFile)
	require.True(t, cfg.Aggregation.DeduplicationEnabled, "expected deduplication enabled by default")
	require.Equal(t, "review:agent-requests", cfg.Queue.StreamName)
	require.Equal(t, "agent-workers", cfg.Queue.GroupName)
	require.Equal(t, 24*time.Hour, cfg.Queue.Retention)
	require.Equal(t, 120*time.Second, cfg.LLM.Timeout)
	require.Equal(t, 5*time.Second, cfg.Context.StrategyDeadline)
	require.Equal(t, 60000, cfg.Prompt.CharBudget)
}

func TestLoadConfig_EnvOverridesLLMKeyAndPort(t *testing.T) {
	clearEnv(t)
	os.Setenv("LLM_API_KEY", "sk-test")
	os.Setenv("PORT", "9090")
	defer clearEnv(t)

	cfg := LoadConfig()

	require.Equal(t, "sk-test", cfg.LLM.APIKey)
	require.Equal(t, 9090, cfg.Server.Port)
}

func TestValidate_RequiresAPIKeyAndValidPort(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Server.Port = 70000

	require.Error(t, cfg.Validate(), "expected validation error for missing API key and invalid port")

	cfg.LLM.APIKey = "sk-test"
	cfg.Server.Port = 8080
	require.NoError(t, cfg.Validate())
}

func TestValidate_RejectsOutOfRangeMinConfidence(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.LLM.APIKey = "sk-test"
	cfg.Aggregation.MinConfidence = 1.5

	require.Error(t, cfg.Validate(), "expected validation error for out-of-range min confidence")
}

func TestGetLogLevel(t *testing.T) {
	cfg := &Config{}
	cases := []string{"DEBUG", "warn", "ERROR", "unknown"}
	for _, level := range cases {
		cfg.Log.Level = level
		_ = cfg.GetLogLevel()
	}
}
