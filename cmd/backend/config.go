package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Storage    StorageConfig
	LLM        LLMConfig
	Generation GenerationConfig
	Log        LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Engine       string // "sqlite" or "mysql"
	Path         string // sqlite database file
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
}

// StorageConfig holds blob storage configuration for script artifacts.
type StorageConfig struct {
	Type     string // "local" or "s3"
	BaseDir  string // For local: "./artifacts"
	S3Bucket string // For S3: bucket name
	S3Region string // For S3: AWS region
}

// LLMConfig selects and parameterizes the generation capability.
type LLMConfig struct {
	Provider      string // "openai" or "bedrock"
	BaseURL       string
	APIKey        string
	Model         string
	Timeout       time.Duration
	BedrockRegion string
	BedrockModel  string
	MaxTokens     int
}

// GenerationConfig tunes generation request handling.
type GenerationConfig struct {
	// ExtensionTimeoutOverride replaces the fixed timeout that older capture
	// extensions send with every request.
	ExtensionTimeoutOverride time.Duration
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Enable environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("database.engine", "sqlite")
	v.SetDefault("database.path", "./data/flowmarker_assets.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.database", "flowmarker")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.base_dir", "./artifacts")
	v.SetDefault("storage.s3_bucket", "")
	v.SetDefault("storage.s3_region", "us-east-1")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4.1-mini")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.bedrock_region", "us-east-1")
	v.SetDefault("llm.bedrock_model", "anthropic.claude-sonnet-4-5")
	v.SetDefault("llm.max_tokens", 4096)

	v.SetDefault("generation.extension_timeout_override", "5m")

	v.SetDefault("log.level", "info")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults
	}

	// Parse configuration
	var config Config

	config.Server.Host = v.GetString("server.host")
	config.Server.Port = v.GetInt("server.port")
	config.Server.ReadTimeout = v.GetDuration("server.read_timeout")
	config.Server.WriteTimeout = v.GetDuration("server.write_timeout")

	config.Database.Engine = v.GetString("database.engine")
	config.Database.Path = v.GetString("database.path")
	config.Database.Host = v.GetString("database.host")
	config.Database.Port = v.GetInt("database.port")
	config.Database.User = v.GetString("database.user")
	config.Database.Password = v.GetString("database.password")
	config.Database.Database = v.GetString("database.database")
	config.Database.MaxOpenConns = v.GetInt("database.max_open_conns")
	config.Database.MaxIdleConns = v.GetInt("database.max_idle_conns")

	config.Storage.Type = v.GetString("storage.type")
	config.Storage.BaseDir = v.GetString("storage.base_dir")
	config.Storage.S3Bucket = v.GetString("storage.s3_bucket")
	config.Storage.S3Region = v.GetString("storage.s3_region")

	config.LLM.Provider = v.GetString("llm.provider")
	config.LLM.BaseURL = v.GetString("llm.base_url")
	config.LLM.APIKey = v.GetString("llm.api_key")
	config.LLM.Model = v.GetString("llm.model")
	config.LLM.Timeout = v.GetDuration("llm.timeout")
	config.LLM.BedrockRegion = v.GetString("llm.bedrock_region")
	config.LLM.BedrockModel = v.GetString("llm.bedrock_model")
	config.LLM.MaxTokens = v.GetInt("llm.max_tokens")

	config.Generation.ExtensionTimeoutOverride = v.GetDuration("generation.extension_timeout_override")

	config.Log.Level = v.GetString("log.level")

	return &config, nil
}
