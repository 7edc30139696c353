package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Templates TemplatesConfig
	Session   SessionConfig
	Retrieval RetrievalConfig
	Ingestion IngestionConfig
	Vector    VectorConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins []string
	Development    bool
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	URL      string
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	MaxAttempts    int
	EmbeddingModel string
	EmbeddingDim   int
	EmbedTimeout   int
}

type TemplatesConfig struct {
	Dir     string
	Allowed []string
}

type SessionConfig struct {
	TTLSeconds int
}

type RetrievalConfig struct {
	Enabled              bool
	TopK                 int
	EmbeddingCacheTTLSec int
}

type IngestionConfig struct {
	ChunkSize int
	Workers   int
}

type VectorConfig struct {
	Backend  string
	Postgres PostgresConfig
	Milvus   MilvusConfig
}

type PostgresConfig struct {
	DSN string
}

type MilvusConfig struct {
	Endpoint       string
	CollectionName string
	VectorDim      int
}

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func Load() (*Config, error) {
	// .env is optional; a missing file is not an error.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/draftwise")

	v.SetEnvPrefix("DRAFTWISE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Vector.Backend {
	case "sqlite", "pgvector", "milvus":
	default:
		return fmt.Errorf("unsupported vector backend %q", c.Vector.Backend)
	}
	if c.Vector.Backend == "pgvector" && c.Vector.Postgres.DSN == "" {
		return fmt.Errorf("vector.postgres.dsn is required for the pgvector backend")
	}
	if len(c.Templates.Allowed) == 0 {
		return fmt.Errorf("templates.allowed must list at least one template")
	}
	if c.Session.TTLSeconds <= 0 {
		return fmt.Errorf("session.ttlSeconds must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 180)
	v.SetDefault("server.bodyLimit", 20971520)
	v.SetDefault("server.allowedOrigins", []string{"http://localhost:5173"})
	v.SetDefault("server.development", false)

	v.SetDefault("sqlite.path", "./data/draftwise.db")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.maxTokens", 2048)
	v.SetDefault("llm.timeoutSec", 90)
	v.SetDefault("llm.maxAttempts", 3)
	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	v.SetDefault("llm.embeddingDim", 1536)
	v.SetDefault("llm.embedTimeout", 20)

	v.SetDefault("templates.dir", "./templates")
	v.SetDefault("templates.allowed", []string{"proposal.json", "knowledge_card.json"})

	v.SetDefault("session.ttlSeconds", 3600)

	v.SetDefault("retrieval.enabled", true)
	v.SetDefault("retrieval.topK", 5)
	v.SetDefault("retrieval.embeddingCacheTTLSec", 86400)

	v.SetDefault("ingestion.chunkSize", 1000)
	v.SetDefault("ingestion.workers", 5)

	v.SetDefault("vector.backend", "sqlite")
	v.SetDefault("vector.postgres.dsn", "")
	v.SetDefault("vector.milvus.endpoint", "localhost:19530")
	v.SetDefault("vector.milvus.collectionName", "reference_chunks")
	v.SetDefault("vector.milvus.vectorDim", 1536)

	v.SetDefault("rateLimit.requestsPerMinute", 60)
	v.SetDefault("rateLimit.burst", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
	v.SetDefault("logging.maxSizeMB", 10)
	v.SetDefault("logging.maxBackups", 5)
	v.SetDefault("logging.maxAgeDays", 30)
	v.SetDefault("logging.compress", true)
}
