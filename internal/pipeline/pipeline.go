package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/n8watkins/GeminiGPT-sub000/internal/attachment"
	"github.com/n8watkins/GeminiGPT-sub000/internal/gateway"
	"github.com/n8watkins/GeminiGPT-sub000/internal/memory"
	"github.com/n8watkins/GeminiGPT-sub000/internal/models"
	"github.com/n8watkins/GeminiGPT-sub000/internal/prompts"
	"github.com/n8watkins/GeminiGPT-sub000/internal/ratelimit"
	"github.com/n8watkins/GeminiGPT-sub000/internal/sanitize"
	"github.com/n8watkins/GeminiGPT-sub000/internal/tools"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Emitter delivers outbound events to whatever transport carries this
// conversation. The pipeline never sees the transport itself.
type Emitter interface {
	Typing(conversationID string, isTyping bool) error
	Chunk(conversationID, text string, isComplete bool) error
	RateLimitInfo(conversationID string, info models.RateLimitInfo) error
	RateLimitExceeded(conversationID string, retryAfterMs int64) error
}

type Config struct {
	MaxAttachments int `mapstructure:"max_attachments"`
	RecallTopK     int `mapstructure:"recall_top_k"`
}

// Pipeline composes the message-processing stages. One Handle call
// processes one inbound message end to end.
type Pipeline struct {
	limiter   *ratelimit.Limiter
	sanitizer *sanitize.Sanitizer
	validator *attachment.Validator
	gateway   *gateway.Gateway
	memory    *memory.Service
	registry  *tools.Registry
	logger    *zap.Logger
	cfg       Config
}

func New(
	limiter *ratelimit.Limiter,
	sanitizer *sanitize.Sanitizer,
	validator *attachment.Validator,
	gw *gateway.Gateway,
	mem *memory.Service,
	registry *tools.Registry,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if cfg.RecallTopK <= 0 {
		cfg.RecallTopK = 5
	}
	return &Pipeline{
		limiter:   limiter,
		sanitizer: sanitizer,
		validator: validator,
		gateway:   gw,
		memory:    mem,
		registry:  registry,
		logger:    logger,
		cfg:       cfg,
	}
}

// Handle runs the full pipeline for one inbound message. It never
// propagates a failure to the caller and never leaves the typing
// signal stuck on: every exit path, including panics, clears it.
func (p *Pipeline) Handle(ctx context.Context, em Emitter, in models.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline panic recovered",
				zap.Any("panic", r),
				zap.String("user_id", in.UserID),
				zap.String("conversation_id", in.ConversationID))
			_ = em.Chunk(in.ConversationID, models.MsgGenericError, true)
		}
	}()

	_ = em.Typing(in.ConversationID, true)
	defer func() { _ = em.Typing(in.ConversationID, false) }()

	rate := p.limiter.CheckAndConsume(in.UserID)
	if !rate.Allowed {
		p.logger.Info("message rejected by rate limiter",
			zap.String("user_id", in.UserID),
			zap.Int64("retry_after_ms", rate.RetryAfterMs))
		_ = em.RateLimitExceeded(in.ConversationID, rate.RetryAfterMs)
		return
	}
	_ = em.RateLimitInfo(in.ConversationID, rate.Info)

	toolSummary := prompts.ToolSummary(p.registry.Names(), p.registry.Descriptions())
	msgs := p.sanitizer.BuildContext(ctx, in.History, toolSummary)

	valRes := p.validator.Validate(ctx, in.Attachments, p.cfg.MaxAttachments)
	for _, warning := range valRes.Warnings {
		_ = em.Chunk(in.ConversationID, "⚠️ "+warning+"\n", false)
	}

	userMsg := sanitize.MergeParts(openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: in.Message,
	}, valRes.Parts)
	msgs = append(msgs, userMsg)

	registry := p.registry.WithHandler("memory_recall", p.recallHandler(in.UserID))
	result, err := p.gateway.StreamReply(ctx, msgs, registry, func(text string) error {
		return em.Chunk(in.ConversationID, text, false)
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrSafetyBlocked):
			_ = em.Chunk(in.ConversationID, models.MsgSafetyBlocked, true)
		case errors.Is(err, models.ErrExternalTimeout):
			_ = em.Chunk(in.ConversationID, models.MsgTimeout, true)
		default:
			p.logger.Error("model gateway failed",
				zap.Error(err),
				zap.String("user_id", in.UserID),
				zap.String("conversation_id", in.ConversationID))
			_ = em.Chunk(in.ConversationID, models.MsgGenericError, true)
		}
		return
	}

	// Indexing is fire-and-forget on a detached context: a transport
	// disconnect or the next inbound message must not cancel it.
	now := time.Now()
	userTurn := models.ConversationTurn{Role: models.RoleUser, Content: in.Message, Timestamp: now}
	assistantTurn := models.ConversationTurn{Role: models.RoleAssistant, Content: result.Text, Timestamp: now}
	go p.memory.IndexExchange(context.Background(), in.UserID, in.ConversationID, in.ConversationTitle, userTurn, assistantTurn)

	_ = em.Chunk(in.ConversationID, "", true)
}

// recallHandler binds the memory_recall tool to the sending user so the
// model can only ever search that user's records.
func (p *Pipeline) recallHandler(userID string) tools.Handler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var in struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(args, &in); err != nil || in.Query == "" {
			return "", fmt.Errorf("memory_recall requires a query argument")
		}
		results, err := p.memory.Search(ctx, userID, "", in.Query, p.cfg.RecallTopK)
		if err != nil {
			return "", err
		}
		contents := make([]string, 0, len(results))
		for _, r := range results {
			contents = append(contents, r.Record.Content)
		}
		return tools.FormatRecall(contents), nil
	}
}
