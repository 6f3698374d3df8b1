package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/n8watkins/GeminiGPT-sub000/internal/attachment"
	"github.com/n8watkins/GeminiGPT-sub000/internal/gateway"
	"github.com/n8watkins/GeminiGPT-sub000/internal/memory"
	"github.com/n8watkins/GeminiGPT-sub000/internal/pipeline"
	"github.com/n8watkins/GeminiGPT-sub000/internal/prompts"
	"github.com/n8watkins/GeminiGPT-sub000/internal/ratelimit"
	"github.com/n8watkins/GeminiGPT-sub000/internal/sanitize"
	"github.com/n8watkins/GeminiGPT-sub000/internal/server"
	"github.com/n8watkins/GeminiGPT-sub000/internal/tools"
	"github.com/n8watkins/GeminiGPT-sub000/pkg/config"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	client := openai.NewClient(cfg.OpenAI.APIKey)

	// Initialize vector store
	var store memory.Store
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory vector store")
		store = memory.NewMemoryStore()
	} else {
		logger.Info("Using PostgreSQL vector store")
		store, err = memory.NewPostgresStore(memory.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			logger.Fatal("Failed to initialize vector store", zap.Error(err))
		}
	}
	defer store.Close()

	embedder := memory.NewCachingEmbedder(
		memory.NewOpenAIEmbedder(client, cfg.OpenAI.EmbeddingModel),
		cfg.Memory.CacheSize,
		logger,
	)
	mem := memory.NewService(embedder, store, logger)

	limiter := ratelimit.New(ratelimit.Config{
		ShortCapacity:   cfg.RateLimit.ShortCapacity,
		ShortRefill:     cfg.RateLimit.ShortRefill,
		ShortInterval:   time.Duration(cfg.RateLimit.ShortIntervalMs) * time.Millisecond,
		LongCapacity:    cfg.RateLimit.LongCapacity,
		LongRefill:      cfg.RateLimit.LongRefill,
		LongInterval:    time.Duration(cfg.RateLimit.LongIntervalMs) * time.Millisecond,
		MaxTrackedUsers: cfg.RateLimit.MaxTrackedUsers,
		Retention:       time.Duration(cfg.RateLimit.RetentionHours) * time.Hour,
		SweepInterval:   time.Duration(cfg.RateLimit.SweepMinutes) * time.Minute,
	}, logger)
	defer limiter.Close()

	validator := attachment.NewValidator(attachment.Limits{
		MaxAttachments:    cfg.Attachment.MaxAttachments,
		MaxImageBytes:     cfg.Attachment.MaxImageBytes,
		MaxDocumentBytes:  cfg.Attachment.MaxDocumentBytes,
		MaxTextBytes:      cfg.Attachment.MaxTextBytes,
		MaxImageDimension: cfg.Attachment.MaxImageDimension,
		MaxExtractedChars: cfg.Attachment.MaxExtractedChars,
		ExtractTimeout:    time.Duration(cfg.Attachment.ExtractTimeoutSec) * time.Second,
	}, plainTextExtractor, logger)

	sanitizer := sanitize.New(validator, prompts.Default(), logger)

	registry := tools.NewRegistry(logger)
	tools.RegisterBuiltins(registry)
	registerLookupStubs(registry)

	gw := gateway.New(gateway.NewOpenAIStreamClient(client), gateway.Config{
		Model:              cfg.OpenAI.Model,
		Timeout:            time.Duration(cfg.Gateway.TimeoutSec) * time.Second,
		MaxResponseChars:   cfg.Gateway.MaxResponseChars,
		MaxToolCalls:       cfg.Gateway.MaxToolCalls,
		MaxToolResultChars: cfg.Gateway.MaxToolResultChars,
		Temperature:        float32(cfg.OpenAI.Temperature),
		MaxTokens:          cfg.OpenAI.MaxTokens,
	}, logger)

	p := pipeline.New(limiter, sanitizer, validator, gw, mem, registry, pipeline.Config{
		MaxAttachments: cfg.Attachment.MaxAttachments,
		RecallTopK:     cfg.Memory.RecallTopK,
	}, logger)

	srv := server.New(p, logger)
	if err := srv.ListenAndServe(context.Background(), cfg.Server.Addr); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}
}

// plainTextExtractor is the stand-in document extractor: real PDF/DOCX
// extraction is an external collaborator wired in by the deployment.
func plainTextExtractor(ctx context.Context, data []byte, mimeType string) (string, error) {
	if mimeType == "application/pdf" {
		return "", fmt.Errorf("no pdf extractor configured")
	}
	return string(data), nil
}

// registerLookupStubs wires placeholder stock/weather/search handlers.
// Deployments replace these with real upstream API calls; the tool
// descriptions are the tuning surface for when the model uses them.
func registerLookupStubs(r *tools.Registry) {
	r.Register(tools.Spec{
		Name:        "get_weather",
		Description: "Get the current weather for a city. Use when the user asks about weather conditions.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"city": {"type": "string", "description": "City name"}
			},
			"required": ["city"]
		}`),
	}, func(ctx context.Context, args json.RawMessage) (string, error) {
		return "Weather lookups are not configured on this deployment.", nil
	})

	r.Register(tools.Spec{
		Name:        "get_stock_price",
		Description: "Get the latest price for a stock ticker symbol. Use when the user asks about a stock or share price.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"symbol": {"type": "string", "description": "Ticker symbol, e.g. AAPL"}
			},
			"required": ["symbol"]
		}`),
	}, func(ctx context.Context, args json.RawMessage) (string, error) {
		return "Stock lookups are not configured on this deployment.", nil
	})

	r.Register(tools.Spec{
		Name:        "web_search",
		Description: "Search the web for current information. Use for recent events the model cannot know.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Search query"}
			},
			"required": ["query"]
		}`),
	}, func(ctx context.Context, args json.RawMessage) (string, error) {
		return "Web search is not configured on this deployment.", nil
	})
}
