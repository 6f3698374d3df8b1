package sanitize

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/n8watkins/GeminiGPT-sub000/internal/attachment"
	"github.com/n8watkins/GeminiGPT-sub000/internal/models"
	"github.com/n8watkins/GeminiGPT-sub000/internal/prompts"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// corruptionMarkers are serialization artifacts that upstream bugs have
// been known to hand us as message content. They are flagged and
// replaced rather than forwarded to the model verbatim.
var corruptionMarkers = []string{"[object Object]", "undefined", "null", "NaN"}

const unreadablePlaceholder = "[unreadable message content]"

// Sanitizer turns raw caller-supplied history into the role-normalized,
// instruction-prefixed message sequence the model API expects. History
// attachments go through the exact same validator instance used for new
// uploads; there is no trusted replay path.
type Sanitizer struct {
	validator *attachment.Validator
	catalog   prompts.Catalog
	logger    *zap.Logger
}

func New(validator *attachment.Validator, catalog prompts.Catalog, logger *zap.Logger) *Sanitizer {
	return &Sanitizer{
		validator: validator,
		catalog:   catalog,
		logger:    logger,
	}
}

// BuildContext produces the model-ready history: instruction turns
// first, then each historical turn with normalized role, coerced
// content and re-validated attachments.
func (s *Sanitizer) BuildContext(ctx context.Context, history []models.ConversationTurn, toolSummary string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history)+3)

	out = append(out, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: s.catalog.System,
	})
	out = append(out, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: s.catalog.ToolGuidance,
	})
	if toolSummary != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: toolSummary,
		})
	}

	for i, turn := range history {
		msg := openai.ChatCompletionMessage{
			Role:    normalizeRole(turn.Role),
			Content: s.coerceContent(turn.Content, i),
		}

		if len(turn.Attachments) > 0 {
			res := s.validator.Validate(ctx, turn.Attachments, 0)
			for _, w := range res.Warnings {
				s.logger.Info("historical attachment dropped",
					zap.Int("turn", i),
					zap.String("warning", w))
			}
			msg = mergeParts(msg, res.Parts)
		}
		out = append(out, msg)
	}
	return out
}

// normalizeRole collapses every role alias onto the two roles the model
// API accepts. Anything unrecognized is treated as the user speaking.
func normalizeRole(role models.Role) string {
	switch strings.ToLower(strings.TrimSpace(string(role))) {
	case "assistant", "model", "bot", "ai":
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}

// coerceContent maps corrupted content back to text. Exact-match
// markers mean the whole message was mangled upstream; they are
// replaced with a placeholder and logged.
func (s *Sanitizer) coerceContent(content string, turn int) string {
	trimmed := strings.TrimSpace(content)
	for _, marker := range corruptionMarkers {
		if trimmed == marker {
			s.logger.Warn("corrupted history content replaced",
				zap.Int("turn", turn),
				zap.String("marker", marker))
			return unreadablePlaceholder
		}
	}
	return content
}

// mergeParts folds validated attachment parts into a chat message:
// images become inline data-URL parts, extracted text is appended to
// the message body.
func mergeParts(msg openai.ChatCompletionMessage, parts []attachment.Part) openai.ChatCompletionMessage {
	text := msg.Content
	var imageParts []openai.ChatMessagePart

	for _, p := range parts {
		if len(p.InlineData) > 0 {
			imageParts = append(imageParts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", p.MimeType,
						base64.StdEncoding.EncodeToString(p.InlineData)),
				},
			})
			continue
		}
		if p.Text != "" {
			text = text + fmt.Sprintf("\n\n[Attached file %q]\n%s", p.FileName, p.Text)
		}
	}

	if len(imageParts) == 0 {
		msg.Content = text
		return msg
	}

	multi := []openai.ChatMessagePart{{
		Type: openai.ChatMessagePartTypeText,
		Text: text,
	}}
	msg.Content = ""
	msg.MultiContent = append(multi, imageParts...)
	return msg
}

// MergeParts is the exported form used by the pipeline for the new
// outgoing message, so fresh uploads and history render identically.
func MergeParts(msg openai.ChatCompletionMessage, parts []attachment.Part) openai.ChatCompletionMessage {
	return mergeParts(msg, parts)
}
