package sanitize

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/n8watkins/GeminiGPT-sub000/internal/attachment"
	"github.com/n8watkins/GeminiGPT-sub000/internal/models"
	"github.com/n8watkins/GeminiGPT-sub000/internal/prompts"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSanitizer() *Sanitizer {
	validator := attachment.NewValidator(attachment.Limits{}, nil, zap.NewNop())
	return New(validator, prompts.Default(), zap.NewNop())
}

func TestBuildContext_PrependsInstructions(t *testing.T) {
	s := newTestSanitizer()

	out := s.BuildContext(context.Background(), nil, "Available tools:\n- current_time: tells time")
	require.Len(t, out, 3)
	for _, msg := range out {
		assert.Equal(t, openai.ChatMessageRoleSystem, msg.Role)
	}
	assert.Contains(t, out[2].Content, "current_time")
}

func TestBuildContext_NormalizesRoles(t *testing.T) {
	s := newTestSanitizer()

	history := []models.ConversationTurn{
		{Role: "user", Content: "hi"},
		{Role: "model", Content: "hello"},
		{Role: "ASSISTANT", Content: "still me"},
		{Role: "bot", Content: "also me"},
		{Role: "weird-role", Content: "who am i"},
	}
	out := s.BuildContext(context.Background(), history, "")

	// Two instruction turns precede the history.
	body := out[2:]
	require.Len(t, body, 5)
	assert.Equal(t, openai.ChatMessageRoleUser, body[0].Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, body[1].Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, body[2].Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, body[3].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, body[4].Role, "unknown roles degrade to user")
}

func TestBuildContext_ReplacesCorruptedContent(t *testing.T) {
	s := newTestSanitizer()

	history := []models.ConversationTurn{
		{Role: "user", Content: "[object Object]"},
		{Role: "user", Content: "undefined"},
		{Role: "user", Content: "a perfectly normal message"},
	}
	out := s.BuildContext(context.Background(), history, "")
	body := out[2:]

	assert.Equal(t, unreadablePlaceholder, body[0].Content)
	assert.Equal(t, unreadablePlaceholder, body[1].Content)
	assert.Equal(t, "a perfectly normal message", body[2].Content)
}

func TestBuildContext_HistoryAttachmentsRevalidated(t *testing.T) {
	s := newTestSanitizer()

	// An attachment that would never pass validation today must not
	// slip through just because it arrives via replayed history.
	history := []models.ConversationTurn{{
		Role:    "user",
		Content: "look at this",
		Attachments: []models.AttachmentRef{{
			EncodedPayload:   base64.StdEncoding.EncodeToString([]byte("not a jpeg at all")),
			DeclaredMimeType: "image/jpeg",
			FileName:         "replayed.jpg",
		}},
	}}
	out := s.BuildContext(context.Background(), history, "")
	body := out[2:]

	require.Len(t, body, 1)
	assert.Empty(t, body[0].MultiContent, "invalid historical image is dropped")
	assert.Equal(t, "look at this", body[0].Content)
}

func TestBuildContext_ValidHistoryTextAttachmentAppended(t *testing.T) {
	s := newTestSanitizer()

	history := []models.ConversationTurn{{
		Role:    "user",
		Content: "notes attached",
		Attachments: []models.AttachmentRef{{
			EncodedPayload:   base64.StdEncoding.EncodeToString([]byte("groceries: milk, eggs")),
			DeclaredMimeType: "text/plain",
			FileName:         "notes.txt",
		}},
	}}
	out := s.BuildContext(context.Background(), history, "")
	body := out[2:]

	require.Len(t, body, 1)
	assert.Contains(t, body[0].Content, "notes attached")
	assert.Contains(t, body[0].Content, "groceries: milk, eggs")
}
