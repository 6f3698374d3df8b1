package memory

import (
	"context"
	"math"

	"github.com/n8watkins/GeminiGPT-sub000/internal/models"
)

// Filter scopes store operations. UserID is always required; an empty
// ConversationID means "all of this user's conversations".
type Filter struct {
	UserID         string
	ConversationID string
}

// Store is the vector index contract. Both implementations rank by
// cosine similarity and never cross a user boundary.
type Store interface {
	Insert(ctx context.Context, record models.EmbeddingRecord) error
	Query(ctx context.Context, vector []float32, filter Filter, topK int) ([]models.SearchResult, error)
	Delete(ctx context.Context, filter Filter) error
	Close() error
}

// cosineSimilarity is shared by both store backends. Mismatched or
// zero-magnitude vectors score 0 rather than erroring.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
