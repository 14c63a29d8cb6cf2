package tiermem

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/tiermem/tiermem-go/pkg/core"
)

// Config contains the complete configuration for a TierMem client.
//
// It covers the storage backend, the embedding and summarization
// collaborators, the lifecycle engine tuning, and retrieval behavior.
//
// Example:
//
//	config := &tiermem.Config{
//	    Storage: tiermem.StorageConfig{
//	        Provider: "sqlite",
//	        SQLitePath: "./tiermem.db",
//	    },
//	    Embedder: tiermem.EmbedderConfig{
//	        Provider: "openai",
//	        APIKey:   "sk-...",
//	    },
//	    Summarizer: tiermem.SummarizerConfig{
//	        Provider: "openai",
//	        APIKey:   "sk-...",
//	    },
//	}
type Config struct {
	// Storage contains storage backend configuration.
	Storage StorageConfig `json:"storage"`

	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder"`

	// Summarizer contains summarization provider configuration.
	Summarizer SummarizerConfig `json:"summarizer"`

	// Lifecycle contains consolidation engine tuning (optional).
	Lifecycle *LifecycleConfig `json:"lifecycle,omitempty"`

	// Retrieval contains cross-tier search tuning (optional).
	Retrieval *RetrievalConfig `json:"retrieval,omitempty"`

	// LogLevel is one of zerolog's level names (default "info").
	LogLevel string `json:"log_level,omitempty"`
}

// StorageConfig contains configuration for the storage backend.
//
// Supported providers: sqlite, postgres, mysql.
type StorageConfig struct {
	// Provider is the storage backend name (sqlite, postgres, mysql).
	Provider string `json:"provider"`

	// SQLitePath is the database file path (sqlite only).
	SQLitePath string `json:"sqlite_path,omitempty"`

	// Host, Port, User, Password, DBName apply to postgres and mysql.
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	DBName   string `json:"db_name,omitempty"`

	// SSLMode applies to postgres only (default "disable").
	SSLMode string `json:"ssl_mode,omitempty"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: openai, qwen.
type EmbedderConfig struct {
	// Provider is the embedding provider name (openai, qwen).
	Provider string `json:"provider"`

	// APIKey is the API key for the provider.
	APIKey string `json:"api_key"`

	// Model is the embedding model name (provider default if empty).
	Model string `json:"model,omitempty"`

	// BaseURL overrides the API endpoint (provider default if empty).
	BaseURL string `json:"base_url,omitempty"`

	// Dimensions is the vector length (default core.EmbeddingDims).
	Dimensions int `json:"dimensions,omitempty"`
}

// SummarizerConfig contains configuration for the summarization provider.
//
// Supported providers: openai, anthropic, ollama.
type SummarizerConfig struct {
	// Provider is the summarizer provider name (openai, anthropic, ollama).
	Provider string `json:"provider"`

	// APIKey is the API key for the provider (unused by ollama).
	APIKey string `json:"api_key,omitempty"`

	// Model is the chat model name (provider default if empty).
	Model string `json:"model,omitempty"`

	// BaseURL overrides the API endpoint (provider default if empty).
	BaseURL string `json:"base_url,omitempty"`
}

// LifecycleConfig tunes the consolidation engine.
type LifecycleConfig struct {
	// MinStrength is the post-decay strength a record needs to be promoted
	// (default 0.3).
	MinStrength float64 `json:"min_strength,omitempty"`

	// CycleWindow is how recently a record must NOT have been decayed to be
	// picked up again, in hours (default 20).
	CycleWindowHours int `json:"cycle_window_hours,omitempty"`

	// Workers is the consolidation worker pool size (default 4).
	Workers int `json:"workers,omitempty"`

	// RetryAttempts is the batch candidate-pull retry budget (default 3).
	RetryAttempts int `json:"retry_attempts,omitempty"`
}

// RetrievalConfig tunes cross-tier search.
type RetrievalConfig struct {
	// DomainTimeoutMillis bounds each domain's search (default 2000).
	DomainTimeoutMillis int `json:"domain_timeout_millis,omitempty"`
}

// CycleWindow returns the configured idempotence window as a duration.
func (c *LifecycleConfig) CycleWindow() time.Duration {
	if c == nil || c.CycleWindowHours <= 0 {
		return 0
	}
	return time.Duration(c.CycleWindowHours) * time.Hour
}

// DomainTimeout returns the configured per-domain search timeout.
func (c *RetrievalConfig) DomainTimeout() time.Duration {
	if c == nil || c.DomainTimeoutMillis <= 0 {
		return 0
	}
	return time.Duration(c.DomainTimeoutMillis) * time.Millisecond
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function searches for a .env file (up to 5 directory levels up),
// loads it if found, then reads:
//
//   - STORAGE_PROVIDER (sqlite, postgres, mysql; default sqlite)
//   - SQLITE_PATH
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD,
//     POSTGRES_DATABASE, POSTGRES_SSLMODE
//   - MYSQL_HOST, MYSQL_PORT, MYSQL_USER, MYSQL_PASSWORD, MYSQL_DATABASE
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL,
//     EMBEDDING_BASE_URL, EMBEDDING_DIMS
//   - SUMMARIZER_PROVIDER, SUMMARIZER_API_KEY, SUMMARIZER_MODEL,
//     SUMMARIZER_BASE_URL
//   - TIERMEM_LOG_LEVEL
func LoadConfigFromEnv() (*Config, error) {
	if envPath, found := FindEnvFile(); found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	storage := StorageConfig{
		Provider: getEnvOrDefault("STORAGE_PROVIDER", "sqlite"),
	}
	switch storage.Provider {
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		storage.Host = getEnvOrDefault("POSTGRES_HOST", "localhost")
		storage.Port = port
		storage.User = getEnvOrDefault("POSTGRES_USER", "postgres")
		storage.Password = os.Getenv("POSTGRES_PASSWORD")
		storage.DBName = getEnvOrDefault("POSTGRES_DATABASE", "tiermem")
		storage.SSLMode = getEnvOrDefault("POSTGRES_SSLMODE", "disable")
	case "mysql":
		port, _ := strconv.Atoi(getEnvOrDefault("MYSQL_PORT", "3306"))
		storage.Host = getEnvOrDefault("MYSQL_HOST", "127.0.0.1")
		storage.Port = port
		storage.User = getEnvOrDefault("MYSQL_USER", "root")
		storage.Password = os.Getenv("MYSQL_PASSWORD")
		storage.DBName = getEnvOrDefault("MYSQL_DATABASE", "tiermem")
	default:
		storage.SQLitePath = getEnvOrDefault("SQLITE_PATH", "./tiermem.db")
	}

	dims, _ := strconv.Atoi(getEnvOrDefault("EMBEDDING_DIMS", strconv.Itoa(core.EmbeddingDims)))

	config := &Config{
		Storage: storage,
		Embedder: EmbedderConfig{
			Provider:   getEnvOrDefault("EMBEDDING_PROVIDER", "openai"),
			APIKey:     os.Getenv("EMBEDDING_API_KEY"),
			Model:      os.Getenv("EMBEDDING_MODEL"),
			BaseURL:    os.Getenv("EMBEDDING_BASE_URL"),
			Dimensions: dims,
		},
		Summarizer: SummarizerConfig{
			Provider: getEnvOrDefault("SUMMARIZER_PROVIDER", "openai"),
			APIKey:   os.Getenv("SUMMARIZER_API_KEY"),
			Model:    os.Getenv("SUMMARIZER_MODEL"),
			BaseURL:  os.Getenv("SUMMARIZER_BASE_URL"),
		},
		LogLevel: getEnvOrDefault("TIERMEM_LOG_LEVEL", "info"),
	}
	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, core.NewMemoryError("LoadConfigFromEnvFile", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.NewMemoryError("LoadConfigFromJSON", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, core.NewMemoryError("LoadConfigFromJSON", err)
	}
	return &config, nil
}

// Validate checks that the required providers are set and recognized.
func (c *Config) Validate() error {
	switch c.Storage.Provider {
	case "sqlite", "postgres", "mysql":
	default:
		return core.NewMemoryError("Validate", core.ErrInvalidConfig)
	}
	switch c.Embedder.Provider {
	case "openai", "qwen":
	default:
		return core.NewMemoryError("Validate", core.ErrInvalidConfig)
	}
	switch c.Summarizer.Provider {
	case "openai", "anthropic", "ollama":
	default:
		return core.NewMemoryError("Validate", core.ErrInvalidConfig)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FindEnvFile searches for a .env or .env.example file, starting in the
// current directory and walking up to 5 parent directories.
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}
