package tiermem_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tiermem "github.com/tiermem/tiermem-go"
	"github.com/tiermem/tiermem-go/pkg/core"
)

func validConfig() *tiermem.Config {
	return &tiermem.Config{
		Storage:    tiermem.StorageConfig{Provider: "sqlite", SQLitePath: ":memory:"},
		Embedder:   tiermem.EmbedderConfig{Provider: "openai", APIKey: "sk-test"},
		Summarizer: tiermem.SummarizerConfig{Provider: "openai", APIKey: "sk-test"},
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cases := []struct {
		name   string
		mutate func(*tiermem.Config)
	}{
		{"unknown storage provider", func(c *tiermem.Config) { c.Storage.Provider = "redis" }},
		{"empty storage provider", func(c *tiermem.Config) { c.Storage.Provider = "" }},
		{"unknown embedder provider", func(c *tiermem.Config) { c.Embedder.Provider = "cohere" }},
		{"unknown summarizer provider", func(c *tiermem.Config) { c.Summarizer.Provider = "gemini" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			config := validConfig()
			tc.mutate(config)
			err := config.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrInvalidConfig))
		})
	}
}

func TestLoadConfigFromJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data := `{
		"storage": {"provider": "postgres", "host": "db.internal", "port": 5433, "user": "mem", "db_name": "tiermem"},
		"embedder": {"provider": "qwen", "api_key": "qk", "dimensions": 768},
		"summarizer": {"provider": "anthropic", "api_key": "ak", "model": "claude-3-5-haiku-latest"},
		"lifecycle": {"min_strength": 0.4, "cycle_window_hours": 12, "workers": 2},
		"retrieval": {"domain_timeout_millis": 500},
		"log_level": "debug"
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	config, err := tiermem.LoadConfigFromJSON(path)
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.Equal(t, "postgres", config.Storage.Provider)
	assert.Equal(t, "db.internal", config.Storage.Host)
	assert.Equal(t, 5433, config.Storage.Port)
	assert.Equal(t, "qwen", config.Embedder.Provider)
	assert.Equal(t, 768, config.Embedder.Dimensions)
	assert.Equal(t, "anthropic", config.Summarizer.Provider)
	assert.Equal(t, 0.4, config.Lifecycle.MinStrength)
	assert.Equal(t, "debug", config.LogLevel)
}

func TestLoadConfigFromJSONMissingFile(t *testing.T) {
	_, err := tiermem.LoadConfigFromJSON(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	for _, key := range []string{
		"STORAGE_PROVIDER", "SQLITE_PATH",
		"EMBEDDING_PROVIDER", "EMBEDDING_API_KEY", "EMBEDDING_DIMS",
		"SUMMARIZER_PROVIDER", "TIERMEM_LOG_LEVEL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	// Keep the walk-up .env discovery away from the repo's own files.
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	config, err := tiermem.LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", config.Storage.Provider)
	assert.Equal(t, "./tiermem.db", config.Storage.SQLitePath)
	assert.Equal(t, "openai", config.Embedder.Provider)
	assert.Equal(t, core.EmbeddingDims, config.Embedder.Dimensions)
	assert.Equal(t, "openai", config.Summarizer.Provider)
	assert.Equal(t, "info", config.LogLevel)
}

func TestLoadConfigFromEnvMySQL(t *testing.T) {
	t.Setenv("STORAGE_PROVIDER", "mysql")
	t.Setenv("MYSQL_HOST", "mysql.internal")
	t.Setenv("MYSQL_PORT", "3307")
	t.Setenv("MYSQL_USER", "mem")
	t.Setenv("MYSQL_PASSWORD", "secret")
	t.Setenv("MYSQL_DATABASE", "memories")

	config, err := tiermem.LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "mysql", config.Storage.Provider)
	assert.Equal(t, "mysql.internal", config.Storage.Host)
	assert.Equal(t, 3307, config.Storage.Port)
	assert.Equal(t, "mem", config.Storage.User)
	assert.Equal(t, "secret", config.Storage.Password)
	assert.Equal(t, "memories", config.Storage.DBName)
}

func TestLifecycleConfigCycleWindow(t *testing.T) {
	var nilConfig *tiermem.LifecycleConfig
	assert.Zero(t, nilConfig.CycleWindow())
	assert.Zero(t, (&tiermem.LifecycleConfig{}).CycleWindow())
	assert.Equal(t, "12h0m0s", (&tiermem.LifecycleConfig{CycleWindowHours: 12}).CycleWindow().String())
}

func TestRetrievalConfigDomainTimeout(t *testing.T) {
	var nilConfig *tiermem.RetrievalConfig
	assert.Zero(t, nilConfig.DomainTimeout())
	assert.Equal(t, "500ms", (&tiermem.RetrievalConfig{DomainTimeoutMillis: 500}).DomainTimeout().String())
}
