// Package config loads the service configuration from YAML through viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config mirrors configs/config.yaml.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	VectorStore   VectorStoreConfig   `mapstructure:"vector_store"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Indexing      IndexingConfig      `mapstructure:"indexing"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Chat          ChatConfig          `mapstructure:"chat"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

type MySQLConfig struct {
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PostgresConfig is only read when vector_store.backend is "pgvector".
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type KafkaConfig struct {
	Brokers     string `mapstructure:"brokers"`
	Topic       string `mapstructure:"topic"`
	GroupID     string `mapstructure:"group_id"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

type TikaConfig struct {
	ServerURL      string `mapstructure:"server_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

func (c TikaConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// VectorStoreConfig selects the chunk store backend: memory, elasticsearch or pgvector.
type VectorStoreConfig struct {
	Backend    string `mapstructure:"backend"`
	Dimensions int    `mapstructure:"dimensions"`
	// Oversample multiplies k for backends that post-filter hits.
	Oversample int `mapstructure:"oversample"`
}

type EmbeddingConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	Model             string  `mapstructure:"model"`
	Dimensions        int     `mapstructure:"dimensions"`
	BatchSize         int     `mapstructure:"batch_size"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	MaxRetries        int     `mapstructure:"max_retries"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	QueryCacheSize    int     `mapstructure:"query_cache_size"`
}

func (c EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type LLMConfig struct {
	APIKey         string              `mapstructure:"api_key"`
	BaseURL        string              `mapstructure:"base_url"`
	Model          string              `mapstructure:"model"`
	TimeoutSeconds int                 `mapstructure:"timeout_seconds"`
	Generation     LLMGenerationConfig `mapstructure:"generation"`
	Prompt         LLMPromptConfig     `mapstructure:"prompt"`
}

func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig controls the system prompt and how retrieved context is fenced.
type LLMPromptConfig struct {
	Rules        string `mapstructure:"rules"`
	RefStart     string `mapstructure:"ref_start"`
	RefEnd       string `mapstructure:"ref_end"`
	NoResultText string `mapstructure:"no_result_text"`
}

// IndexingConfig drives the orchestrator and chunker.
// Changing chunk_size, chunk_overlap or hash_algorithm requires bumping version.
type IndexingConfig struct {
	Version                int    `mapstructure:"version"`
	Workers                int    `mapstructure:"workers"`
	ChunkSize              int    `mapstructure:"chunk_size"`
	ChunkOverlap           int    `mapstructure:"chunk_overlap"`
	FileTimeoutSeconds     int    `mapstructure:"file_timeout_seconds"`
	LeaseTTLSeconds        int    `mapstructure:"lease_ttl_seconds"`
	HashAlgorithm          string `mapstructure:"hash_algorithm"`
	ReindexOnVersionChange bool   `mapstructure:"reindex_on_version_change"`
	MaxErrorLength         int    `mapstructure:"max_error_length"`
	RunTTLHours            int    `mapstructure:"run_ttl_hours"`
}

func (c IndexingConfig) FileTimeout() time.Duration {
	return time.Duration(c.FileTimeoutSeconds) * time.Second
}

func (c IndexingConfig) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLSeconds) * time.Second
}

func (c IndexingConfig) RunTTL() time.Duration {
	return time.Duration(c.RunTTLHours) * time.Hour
}

type RetrievalConfig struct {
	DefaultK int     `mapstructure:"default_k"`
	MaxK     int     `mapstructure:"max_k"`
	MinScore float64 `mapstructure:"min_score"`
}

type ChatConfig struct {
	MaxHistory int  `mapstructure:"max_history"`
	UseRAG     bool `mapstructure:"use_rag"`
}

// Load reads the YAML file at path, overlays HOA_* environment variables
// (HOA_EMBEDDING_API_KEY overrides embedding.api_key) and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("HOA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad is Load that panics, for main.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("jwt.access_token_expire_hours", 24)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.topic", "document-indexing")
	v.SetDefault("kafka.group_id", "hoa-nexus-indexer")
	v.SetDefault("kafka.max_attempts", 3)
	v.SetDefault("tika.timeout_seconds", 60)
	v.SetDefault("elasticsearch.index_name", "document_chunks")
	v.SetDefault("vector_store.backend", "memory")
	v.SetDefault("vector_store.oversample", 4)
	v.SetDefault("embedding.batch_size", 16)
	v.SetDefault("embedding.timeout_seconds", 30)
	v.SetDefault("embedding.max_retries", 3)
	v.SetDefault("embedding.requests_per_second", 5)
	v.SetDefault("embedding.burst", 5)
	v.SetDefault("embedding.query_cache_size", 512)
	v.SetDefault("llm.timeout_seconds", 120)
	v.SetDefault("indexing.version", 1)
	v.SetDefault("indexing.workers", 4)
	v.SetDefault("indexing.chunk_size", 1000)
	v.SetDefault("indexing.chunk_overlap", 100)
	v.SetDefault("indexing.file_timeout_seconds", 300)
	v.SetDefault("indexing.lease_ttl_seconds", 600)
	v.SetDefault("indexing.hash_algorithm", "sha256")
	v.SetDefault("indexing.reindex_on_version_change", true)
	v.SetDefault("indexing.max_error_length", 1000)
	v.SetDefault("indexing.run_ttl_hours", 24)
	v.SetDefault("retrieval.default_k", 5)
	v.SetDefault("retrieval.max_k", 50)
	v.SetDefault("retrieval.min_score", 0.0)
	v.SetDefault("chat.max_history", 10)
	v.SetDefault("chat.use_rag", true)
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Indexing.Workers <= 0 {
		errs = append(errs, errors.New("indexing.workers must be positive"))
	}
	if c.Indexing.ChunkSize <= 0 {
		errs = append(errs, errors.New("indexing.chunk_size must be positive"))
	}
	if c.Indexing.ChunkOverlap < 0 {
		errs = append(errs, errors.New("indexing.chunk_overlap must not be negative"))
	}
	if c.Indexing.Version <= 0 {
		errs = append(errs, errors.New("indexing.version must be positive"))
	}
	switch c.Indexing.HashAlgorithm {
	case "sha256", "blake2b":
	default:
		errs = append(errs, fmt.Errorf("indexing.hash_algorithm %q is not supported", c.Indexing.HashAlgorithm))
	}
	switch c.VectorStore.Backend {
	case "memory", "elasticsearch", "pgvector":
	default:
		errs = append(errs, fmt.Errorf("vector_store.backend %q is not supported", c.VectorStore.Backend))
	}
	if c.VectorStore.Backend == "pgvector" && c.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres.dsn is required for the pgvector backend"))
	}
	if c.Embedding.BatchSize <= 0 {
		errs = append(errs, errors.New("embedding.batch_size must be positive"))
	}
	if c.Retrieval.DefaultK <= 0 {
		errs = append(errs, errors.New("retrieval.default_k must be positive"))
	}
	if c.Retrieval.MaxK < c.Retrieval.DefaultK {
		errs = append(errs, errors.New("retrieval.max_k must be >= retrieval.default_k"))
	}
	return errors.Join(errs...)
}
