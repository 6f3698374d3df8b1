package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Attachment AttachmentConfig `mapstructure:"attachment"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	Database   DatabaseConfig   `mapstructure:"database"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type OpenAIConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	EmbeddingModel string  `mapstructure:"embedding_model"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature"`
}

type RateLimitConfig struct {
	ShortCapacity   int `mapstructure:"short_capacity"`
	ShortRefill     int `mapstructure:"short_refill"`
	ShortIntervalMs int `mapstructure:"short_interval_ms"`
	LongCapacity    int `mapstructure:"long_capacity"`
	LongRefill      int `mapstructure:"long_refill"`
	LongIntervalMs  int `mapstructure:"long_interval_ms"`
	MaxTrackedUsers int `mapstructure:"max_tracked_users"`
	RetentionHours  int `mapstructure:"retention_hours"`
	SweepMinutes    int `mapstructure:"sweep_minutes"`
}

type AttachmentConfig struct {
	MaxAttachments    int `mapstructure:"max_attachments"`
	MaxImageBytes     int `mapstructure:"max_image_bytes"`
	MaxDocumentBytes  int `mapstructure:"max_document_bytes"`
	MaxTextBytes      int `mapstructure:"max_text_bytes"`
	MaxImageDimension int `mapstructure:"max_image_dimension"`
	MaxExtractedChars int `mapstructure:"max_extracted_chars"`
	ExtractTimeoutSec int `mapstructure:"extract_timeout_sec"`
}

type GatewayConfig struct {
	TimeoutSec         int `mapstructure:"timeout_sec"`
	MaxResponseChars   int `mapstructure:"max_response_chars"`
	MaxToolCalls       int `mapstructure:"max_tool_calls"`
	MaxToolResultChars int `mapstructure:"max_tool_result_chars"`
}

type MemoryConfig struct {
	CacheSize  int `mapstructure:"cache_size"`
	RecallTopK int `mapstructure:"recall_top_k"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	dbName := strings.TrimPrefix(u.Path, "/")

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  "disable",
	}, nil
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("openai.max_tokens", 2048)
	v.SetDefault("openai.temperature", 0.7)
	v.SetDefault("rate_limit.short_capacity", 10)
	v.SetDefault("rate_limit.short_refill", 10)
	v.SetDefault("rate_limit.short_interval_ms", 60000)
	v.SetDefault("rate_limit.long_capacity", 100)
	v.SetDefault("rate_limit.long_refill", 100)
	v.SetDefault("rate_limit.long_interval_ms", 3600000)
	v.SetDefault("rate_limit.max_tracked_users", 10000)
	v.SetDefault("rate_limit.retention_hours", 24)
	v.SetDefault("rate_limit.sweep_minutes", 10)
	v.SetDefault("attachment.max_attachments", 5)
	v.SetDefault("attachment.max_image_bytes", 10*1024*1024)
	v.SetDefault("attachment.max_document_bytes", 20*1024*1024)
	v.SetDefault("attachment.max_text_bytes", 1024*1024)
	v.SetDefault("attachment.max_image_dimension", 4096)
	v.SetDefault("attachment.max_extracted_chars", 50000)
	v.SetDefault("attachment.extract_timeout_sec", 30)
	v.SetDefault("gateway.timeout_sec", 60)
	v.SetDefault("gateway.max_response_chars", 50000)
	v.SetDefault("gateway.max_tool_calls", 5)
	v.SetDefault("gateway.max_tool_result_chars", 10000)
	v.SetDefault("memory.cache_size", 1000)
	v.SetDefault("memory.recall_top_k", 5)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", true)

	// Enable environment variable support
	v.AutomaticEnv()

	// Read the config file
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		config.Database = dbConfig
		config.Database.UseInMemory = false
	}

	// Get other environment variables
	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	return &config, nil
}
