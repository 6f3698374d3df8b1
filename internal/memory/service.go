package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/n8watkins/GeminiGPT-sub000/internal/models"
	"go.uber.org/zap"
)

// Service is the vector-memory front: embed-and-insert on write,
// embed-and-rank on read, everything scoped to one user.
type Service struct {
	embedder Embedder
	store    Store
	logger   *zap.Logger
}

func NewService(embedder Embedder, store Store, logger *zap.Logger) *Service {
	return &Service{
		embedder: embedder,
		store:    store,
		logger:   logger,
	}
}

// Index embeds one turn and inserts it.
func (s *Service) Index(ctx context.Context, userID, conversationID, conversationTitle string, turn models.ConversationTurn) error {
	if userID == "" || conversationID == "" {
		return fmt.Errorf("%w: record must belong to a user and a conversation", models.ErrIndexingFailure)
	}
	if turn.Content == "" {
		return nil
	}

	vector, err := s.embedder.Embed(ctx, turn.Content)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrIndexingFailure, err)
	}

	ts := turn.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	record := models.EmbeddingRecord{
		ID:                uuid.New().String(),
		UserID:            userID,
		ConversationID:    conversationID,
		MessageID:         uuid.New().String(),
		Content:           turn.Content,
		Role:              turn.Role,
		Timestamp:         ts,
		Vector:            vector,
		ConversationTitle: conversationTitle,
	}
	if err := s.store.Insert(ctx, record); err != nil {
		return fmt.Errorf("%w: %v", models.ErrIndexingFailure, err)
	}
	return nil
}

// IndexExchange indexes the user and assistant turns of one exchange in
// parallel. Failures are isolated per record and logged only; indexing
// is best-effort and never reaches the caller as an error.
func (s *Service) IndexExchange(ctx context.Context, userID, conversationID, conversationTitle string, userTurn, assistantTurn models.ConversationTurn) {
	var wg sync.WaitGroup
	for _, turn := range []models.ConversationTurn{userTurn, assistantTurn} {
		wg.Add(1)
		go func(t models.ConversationTurn) {
			defer wg.Done()
			if err := s.Index(ctx, userID, conversationID, conversationTitle, t); err != nil {
				s.logger.Error("failed to index conversation turn",
					zap.Error(err),
					zap.String("user_id", userID),
					zap.String("conversation_id", conversationID),
					zap.String("role", string(t.Role)))
			}
		}(turn)
	}
	wg.Wait()
}

// Search embeds the query and returns the topK closest records owned by
// userID. conversationID narrows the scope when non-empty.
func (s *Service) Search(ctx context.Context, userID, conversationID, query string, topK int) ([]models.SearchResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("search requires a user id")
	}
	if topK <= 0 {
		topK = 5
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed search query: %w", err)
	}
	return s.store.Query(ctx, vector, Filter{UserID: userID, ConversationID: conversationID}, topK)
}

// DeleteConversation removes one conversation's records for one user.
func (s *Service) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	if userID == "" || conversationID == "" {
		return fmt.Errorf("delete requires a user id and conversation id")
	}
	return s.store.Delete(ctx, Filter{UserID: userID, ConversationID: conversationID})
}

// DeleteUser removes every record the user owns.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("delete requires a user id")
	}
	return s.store.Delete(ctx, Filter{UserID: userID})
}
