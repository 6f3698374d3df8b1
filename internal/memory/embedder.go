package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Embedder produces a fixed-length vector for a piece of text. The
// external API is assumed idempotent for identical text, which is what
// makes the cache below sound.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIEmbedder calls the embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

func NewOpenAIEmbedder(client *openai.Client, model string) *OpenAIEmbedder {
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbedder{client: client, model: openai.EmbeddingModel(model)}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response contained no vectors")
	}
	return resp.Data[0].Embedding, nil
}

// CachingEmbedder wraps another embedder with an in-process cache keyed
// by normalized text, avoiding repeat API calls for identical content
// within the process lifetime. Growth is capped; when full, one
// arbitrary entry is dropped per admit, which keeps the hot path O(1).
type CachingEmbedder struct {
	inner   Embedder
	mu      sync.Mutex
	cache   map[string][]float32
	maxSize int
	logger  *zap.Logger
}

func NewCachingEmbedder(inner Embedder, maxSize int, logger *zap.Logger) *CachingEmbedder {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &CachingEmbedder{
		inner:   inner,
		cache:   make(map[string][]float32),
		maxSize: maxSize,
		logger:  logger,
	}
}

func normalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func (c *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := normalizeText(text)

	c.mu.Lock()
	if vec, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return vec, nil
	}
	c.mu.Unlock()

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.cache[key]; !ok && len(c.cache) >= c.maxSize {
		for victim := range c.cache {
			delete(c.cache, victim)
			c.logger.Debug("embedding cache at capacity, evicted entry",
				zap.Int("max_size", c.maxSize))
			break
		}
	}
	c.cache[key] = vec
	return vec, nil
}
