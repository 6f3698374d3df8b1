package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/n8watkins/GeminiGPT-sub000/internal/models"
)

// MemoryStore is the in-process vector index, used for development and
// tests the same way the relational backend is used in production.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.EmbeddingRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.EmbeddingRecord)}
}

func (s *MemoryStore) Insert(ctx context.Context, record models.EmbeddingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, vector []float32, filter Filter, topK int) ([]models.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []models.SearchResult
	for _, rec := range s.records {
		if rec.UserID != filter.UserID {
			continue
		}
		if filter.ConversationID != "" && rec.ConversationID != filter.ConversationID {
			continue
		}
		results = append(results, models.SearchResult{
			Record: rec,
			Score:  cosineSimilarity(vector, rec.Vector),
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *MemoryStore) Delete(ctx context.Context, filter Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, rec := range s.records {
		if rec.UserID != filter.UserID {
			continue
		}
		if filter.ConversationID != "" && rec.ConversationID != filter.ConversationID {
			continue
		}
		delete(s.records, id)
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
