package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Library    LibraryConfig    `mapstructure:"library"`
	Thumbnails ThumbnailsConfig `mapstructure:"thumbnails"`
	Converter  ConverterConfig  `mapstructure:"converter"`
	Clip       ClipConfig       `mapstructure:"clip"`
	Qdrant     QdrantConfig     `mapstructure:"qdrant"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	// Driver is sqlite or postgres. Path is the sqlite file; DSN is the
	// postgres connection string.
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

type LibraryConfig struct {
	// Root is the photo library directory that scans walk.
	Root string `mapstructure:"root"`
}

type ThumbnailsConfig struct {
	// Prefix is the storage key prefix for generated thumbnails.
	Prefix string `mapstructure:"prefix"`
}

type ConverterConfig struct {
	// Path optionally pins the RAW converter binary; empty falls back to
	// $PHOTOBRAIN_RAW_CONVERTER and then $PATH lookup.
	Path string `mapstructure:"path"`
	// PerFileTimeoutSec scales the batch conversion deadline by input count.
	PerFileTimeoutSec int `mapstructure:"per_file_timeout_sec"`
}

type ClipConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

type StorageConfig struct {
	// Backend is local or s3.
	Backend string      `mapstructure:"backend"`
	Local   LocalConfig `mapstructure:"local"`
	S3      S3Config    `mapstructure:"s3"`
}

type LocalConfig struct {
	Root string `mapstructure:"root"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type QueueConfig struct {
	ScanWorkers      int `mapstructure:"scan_workers"`
	PhashWorkers     int `mapstructure:"phash_workers"`
	EmbeddingWorkers int `mapstructure:"embedding_workers"`
	// ScanParallelism bounds per-file extraction inside one scan job,
	// independent of the phash pool size.
	ScanParallelism int `mapstructure:"scan_parallelism"`
	EmbedBatchSize  int `mapstructure:"embed_batch_size"`
	MaxAttempts     int `mapstructure:"max_attempts"`
	PollIntervalMS  int `mapstructure:"poll_interval_ms"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/photobrain.db")
	v.SetDefault("library.root", "./photos")
	v.SetDefault("thumbnails.prefix", "thumbnails")
	v.SetDefault("converter.path", "")
	v.SetDefault("converter.per_file_timeout_sec", 30)
	v.SetDefault("clip.base_url", "http://localhost:8765")
	v.SetDefault("clip.model", "clip-vit-base-patch32")
	v.SetDefault("clip.dimensions", 512)
	v.SetDefault("clip.timeout_sec", 120)
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "photos")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local.root", "./data/derived")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.bucket", "photobrain")
	v.SetDefault("storage.s3.use_ssl", true)
	v.SetDefault("queue.scan_workers", 1)
	v.SetDefault("queue.phash_workers", 4)
	v.SetDefault("queue.embedding_workers", 1)
	v.SetDefault("queue.scan_parallelism", 4)
	v.SetDefault("queue.embed_batch_size", 16)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.poll_interval_ms", 250)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 14)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.dsn", "DATABASE_DSN")
	v.BindEnv("library.root", "PHOTOBRAIN_LIBRARY")
	v.BindEnv("converter.path", "PHOTOBRAIN_RAW_CONVERTER")
	v.BindEnv("clip.base_url", "CLIP_BASE_URL")
	v.BindEnv("qdrant.host", "QDRANT_HOST")
	v.BindEnv("qdrant.port", "QDRANT_PORT")
	v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("storage.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.s3.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.s3.secret_key", "S3_SECRET_KEY")
	v.BindEnv("storage.s3.bucket", "S3_BUCKET")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
