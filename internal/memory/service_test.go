package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/n8watkins/GeminiGPT-sub000/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// keywordEmbedder maps text onto a tiny deterministic vector space so
// similarity ranking is testable without the real embeddings API.
type keywordEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  map[string]bool
}

func (e *keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	lower := strings.ToLower(text)
	if e.fail != nil && e.fail[lower] {
		return nil, errors.New("embedding backend unavailable")
	}

	vec := []float32{0.01, 0.01, 0.01}
	if strings.Contains(lower, "animal") || strings.Contains(lower, "dog") {
		vec[0] = 1
	}
	if strings.Contains(lower, "weather") || strings.Contains(lower, "sunny") {
		vec[1] = 1
	}
	if strings.Contains(lower, "stock") {
		vec[2] = 1
	}
	return vec, nil
}

func newTestService() (*Service, *keywordEmbedder) {
	emb := &keywordEmbedder{}
	return NewService(emb, NewMemoryStore(), zap.NewNop()), emb
}

func turn(role models.Role, content string) models.ConversationTurn {
	return models.ConversationTurn{Role: role, Content: content}
}

func TestSearch_RanksRelevantConversationFirst(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Index(ctx, "alice", "conv-a", "Pets", turn(models.RoleUser, "my favorite animal is a dog")))
	require.NoError(t, svc.Index(ctx, "alice", "conv-b", "Weather", turn(models.RoleUser, "the weather is sunny today")))
	require.NoError(t, svc.Index(ctx, "alice", "conv-c", "Stocks", turn(models.RoleUser, "how is my stock doing")))

	results, err := svc.Search(ctx, "alice", "", "what is my favorite animal", 3)
	require.NoError(t, err)
	require.NotEmpty(t, results, "relevant records exist; search must not come back empty")
	assert.Equal(t, "conv-a", results[0].Record.ConversationID)
	assert.Equal(t, "my favorite animal is a dog", results[0].Record.Content)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearch_NeverCrossesUserBoundary(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Index(ctx, "user-a", "conv-1", "", turn(models.RoleUser, "my favorite animal is a dog")))
	require.NoError(t, svc.Index(ctx, "user-b", "conv-2", "", turn(models.RoleUser, "my favorite animal is a cat")))

	results, err := svc.Search(ctx, "user-a", "", "favorite animal", 10)
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, "user-a", r.Record.UserID)
	}
}

func TestSearch_ConversationScope(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Index(ctx, "alice", "conv-a", "", turn(models.RoleUser, "dog facts")))
	require.NoError(t, svc.Index(ctx, "alice", "conv-b", "", turn(models.RoleUser, "dog training")))

	results, err := svc.Search(ctx, "alice", "conv-b", "dog", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "conv-b", results[0].Record.ConversationID)
}

func TestDelete_Scoping(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Index(ctx, "alice", "conv-a", "", turn(models.RoleUser, "dog one")))
	require.NoError(t, svc.Index(ctx, "alice", "conv-b", "", turn(models.RoleUser, "dog two")))
	require.NoError(t, svc.Index(ctx, "bob", "conv-c", "", turn(models.RoleUser, "dog three")))

	require.NoError(t, svc.DeleteConversation(ctx, "alice", "conv-a"))
	results, err := svc.Search(ctx, "alice", "", "dog", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "conv-b", results[0].Record.ConversationID)

	require.NoError(t, svc.DeleteUser(ctx, "alice"))
	results, err = svc.Search(ctx, "alice", "", "dog", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	// Bob is untouched by either delete.
	results, err = svc.Search(ctx, "bob", "", "dog", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestIndexExchange_FailureIsolatedPerRecord(t *testing.T) {
	emb := &keywordEmbedder{fail: map[string]bool{"my favorite animal is a dog": true}}
	svc := NewService(emb, NewMemoryStore(), zap.NewNop())
	ctx := context.Background()

	svc.IndexExchange(ctx, "alice", "conv-a", "Pets",
		turn(models.RoleUser, "my favorite animal is a dog"),
		turn(models.RoleAssistant, "Dogs are wonderful animals."))

	// The assistant record survives the user record's embedding failure.
	results, err := svc.Search(ctx, "alice", "", "animal", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.RoleAssistant, results[0].Record.Role)
}

func TestCachingEmbedder_DedupesNormalizedContent(t *testing.T) {
	emb := &keywordEmbedder{}
	cached := NewCachingEmbedder(emb, 10, zap.NewNop())
	ctx := context.Background()

	_, err := cached.Embed(ctx, "My Favorite  Animal")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "my favorite animal")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "  MY   FAVORITE ANIMAL ")
	require.NoError(t, err)

	assert.Equal(t, 1, emb.calls, "identical normalized content embeds once")
}

func TestCachingEmbedder_CapBoundsGrowth(t *testing.T) {
	emb := &keywordEmbedder{}
	cached := NewCachingEmbedder(emb, 2, zap.NewNop())
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three", "four"} {
		_, err := cached.Embed(ctx, text)
		require.NoError(t, err)
	}

	cached.mu.Lock()
	defer cached.mu.Unlock()
	assert.LessOrEqual(t, len(cached.cache), 2)
}
