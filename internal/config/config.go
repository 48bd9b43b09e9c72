// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Conf 是全局配置变量，由 Init 填充。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Log           LogConfig           `mapstructure:"log"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Pgvector      PgvectorConfig      `mapstructure:"pgvector"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	Chunking      ChunkingConfig      `mapstructure:"chunking"`
	Extraction    ExtractionConfig    `mapstructure:"extraction"`
	Redaction     RedactionConfig     `mapstructure:"redaction"`
	Index         IndexConfig         `mapstructure:"index"`
	Query         QueryConfig         `mapstructure:"query"`
	Match         MatchConfig         `mapstructure:"match"`
	Ingest        IngestConfig        `mapstructure:"ingest"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	// Driver selects the document store: "mysql" or "memory".
	Driver string      `mapstructure:"driver"`
	MySQL  MySQLConfig `mapstructure:"mysql"`
	Redis  RedisConfig `mapstructure:"redis"`
}

type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。Addr 为空时不启用 Redis。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers     string `mapstructure:"brokers"`
	Topic       string `mapstructure:"topic"`
	GroupID     string `mapstructure:"group_id"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

type PgvectorConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。Endpoint 为空时原始文件保存在内存中。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	// Provider is one of "hashing", "openai", "gemini".
	Provider       string        `mapstructure:"provider"`
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	Dimensions     int           `mapstructure:"dimensions"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	CacheSize      int           `mapstructure:"cache_size"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

// ChunkingConfig controls how text is windowed before embedding. Sizes are in runes.
type ChunkingConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

// ExtractionConfig bounds container extraction.
type ExtractionConfig struct {
	MaxDecompressedBytes int64 `mapstructure:"max_decompressed_bytes"`
	MaxDepth             int   `mapstructure:"max_depth"`
	MaxEntries           int   `mapstructure:"max_entries"`
}

type RedactionConfig struct {
	// HeaderName treats a short capitalized first line as the candidate's name.
	HeaderName bool   `mapstructure:"header_name"`
	NERURL     string `mapstructure:"ner_url"`
}

type IndexConfig struct {
	// Backend is one of "memory", "elasticsearch", "pgvector".
	Backend string `mapstructure:"backend"`
}

type QueryConfig struct {
	MaxK       int     `mapstructure:"max_k"`
	Oversample int     `mapstructure:"oversample"`
	MinScore   float64 `mapstructure:"min_score"`
}

type MatchConfig struct {
	MaxTopN int `mapstructure:"max_top_n"`
}

type IngestConfig struct {
	// Dispatcher is "local" or "kafka".
	Dispatcher string `mapstructure:"dispatcher"`
	Workers    int    `mapstructure:"workers"`
	QueueSize  int    `mapstructure:"queue_size"`
	SeedDir    string `mapstructure:"seed_dir"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = *cfg
}

// Load reads the YAML file at configPath (optional when empty), applies RESUMERAG_* environment
// overrides and defaults, and validates the result.
func Load(configPath string) (*Config, error) {
	// .env 文件不存在时仅依赖环境变量
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("RESUMERAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is supplied: everything in memory,
// the local hashing embedder and no external services.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Unmarshal of defaults only cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("database.driver", "memory")
	v.SetDefault("kafka.topic", "resume-ingest")
	v.SetDefault("kafka.group_id", "resumerag-worker")
	v.SetDefault("kafka.max_attempts", 3)
	v.SetDefault("elasticsearch.index_name", "resume_vectors")
	v.SetDefault("pgvector.table", "resume_vectors")
	v.SetDefault("minio.bucket_name", "resumes")
	v.SetDefault("embedding.provider", "hashing")
	v.SetDefault("embedding.model", "hashing-v1")
	v.SetDefault("embedding.dimensions", 384)
	v.SetDefault("embedding.max_concurrency", 4)
	v.SetDefault("embedding.rate_per_second", 0)
	v.SetDefault("embedding.cache_size", 4096)
	v.SetDefault("embedding.cache_ttl", 24*time.Hour)
	v.SetDefault("chunking.size", 1000)
	v.SetDefault("chunking.overlap", 100)
	v.SetDefault("extraction.max_decompressed_bytes", int64(64<<20))
	v.SetDefault("extraction.max_depth", 2)
	v.SetDefault("extraction.max_entries", 1000)
	v.SetDefault("redaction.header_name", true)
	v.SetDefault("index.backend", "memory")
	v.SetDefault("query.max_k", 10)
	v.SetDefault("query.oversample", 8)
	v.SetDefault("query.min_score", -1.0)
	v.SetDefault("match.max_top_n", 50)
	v.SetDefault("ingest.dispatcher", "local")
	v.SetDefault("ingest.workers", 2)
	v.SetDefault("ingest.queue_size", 128)
}

// Validate rejects configurations the components cannot honour.
func (c *Config) Validate() error {
	var errs []error
	if c.Chunking.Size <= 0 {
		errs = append(errs, errors.New("chunking.size must be positive"))
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, fmt.Errorf("chunking.overlap must be in [0, %d)", c.Chunking.Size))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, errors.New("embedding.dimensions must be positive"))
	}
	if c.Embedding.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("embedding.max_concurrency must be positive"))
	}
	if c.Extraction.MaxDecompressedBytes <= 0 || c.Extraction.MaxDepth < 0 || c.Extraction.MaxEntries <= 0 {
		errs = append(errs, errors.New("extraction limits must be positive"))
	}
	if c.Query.MaxK <= 0 || c.Query.Oversample <= 0 {
		errs = append(errs, errors.New("query.max_k and query.oversample must be positive"))
	}
	if c.Match.MaxTopN <= 0 {
		errs = append(errs, errors.New("match.max_top_n must be positive"))
	}
	switch c.Index.Backend {
	case "memory", "elasticsearch", "pgvector":
	default:
		errs = append(errs, fmt.Errorf("unknown index.backend %q", c.Index.Backend))
	}
	switch c.Embedding.Provider {
	case "hashing", "openai", "gemini":
	default:
		errs = append(errs, fmt.Errorf("unknown embedding.provider %q", c.Embedding.Provider))
	}
	switch c.Ingest.Dispatcher {
	case "local", "kafka":
	default:
		errs = append(errs, fmt.Errorf("unknown ingest.dispatcher %q", c.Ingest.Dispatcher))
	}
	switch c.Database.Driver {
	case "memory", "mysql":
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}
	return errors.Join(errs...)
}
