package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/n8watkins/GeminiGPT-sub000/internal/models"
	"github.com/n8watkins/GeminiGPT-sub000/internal/tools"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ChatStream is the portion of the generation API's stream handle the
// gateway consumes. *openai.ChatCompletionStream satisfies it.
type ChatStream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// StreamClient opens a streaming completion. Narrowed from the concrete
// API client so tests can drive the gateway with scripted streams.
type StreamClient interface {
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (ChatStream, error)
}

// OpenAIStreamClient adapts *openai.Client to StreamClient.
type OpenAIStreamClient struct {
	client *openai.Client
}

func NewOpenAIStreamClient(client *openai.Client) *OpenAIStreamClient {
	return &OpenAIStreamClient{client: client}
}

func (c *OpenAIStreamClient) CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (ChatStream, error) {
	return c.client.CreateChatCompletionStream(ctx, req)
}

// State is the terminal state of one streaming invocation.
type State int

const (
	StateComplete State = iota
	StateSafetyBlocked
	StateTimedOut
	StateFailed
)

// Config bounds one streaming session. Zero values get the defaults
// below.
type Config struct {
	Model              string        `mapstructure:"model"`
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxResponseChars   int           `mapstructure:"max_response_chars"`
	MaxToolCalls       int           `mapstructure:"max_tool_calls"`
	MaxToolResultChars int           `mapstructure:"max_tool_result_chars"`
	Temperature        float32       `mapstructure:"temperature"`
	MaxTokens          int           `mapstructure:"max_tokens"`
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = openai.GPT4oMini
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxResponseChars <= 0 {
		c.MaxResponseChars = 50000
	}
	if c.MaxToolCalls <= 0 {
		c.MaxToolCalls = 5
	}
	if c.MaxToolResultChars <= 0 {
		c.MaxToolResultChars = 10000
	}
	return c
}

// Result is what one StreamReply invocation produced. Text is empty
// when the state is SafetyBlocked: partial moderated content is never
// forwarded.
type Result struct {
	Text      string
	UsedTools []string
	State     State
}

// Gateway wraps the external streaming generation API: it builds the
// session, streams output, intercepts tool calls and enforces the
// response-size and call-count bounds.
type Gateway struct {
	client StreamClient
	cfg    Config
	logger *zap.Logger
}

func New(client StreamClient, cfg Config, logger *zap.Logger) *Gateway {
	return &Gateway{
		client: client,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

var errSafetyBlocked = errors.New("content filter triggered")

// streamPass is the outcome of consuming one stream until it ends or a
// tool-call round is requested.
type streamPass struct {
	text        string
	toolCalls   []openai.ToolCall
	wantsTools  bool
	capReached  bool
	safetyBlock bool
}

// StreamReply runs one full generation session: stream, intercept tool
// calls (bounded), feed results back, stream again, until the model
// finishes or a terminal condition hits. onChunk receives text as it
// arrives; an onChunk error stops forwarding (transport gone) but the
// session still runs to completion so the turn can be indexed.
func (g *Gateway) StreamReply(ctx context.Context, messages []openai.ChatCompletionMessage, registry *tools.Registry, onChunk func(text string) error) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	msgs := make([]openai.ChatCompletionMessage, len(messages))
	copy(msgs, messages)

	var total strings.Builder
	var usedTools []string
	toolBudget := g.cfg.MaxToolCalls
	emit := onChunk

	for {
		req := openai.ChatCompletionRequest{
			Model:       g.cfg.Model,
			Messages:    msgs,
			Temperature: g.cfg.Temperature,
			MaxTokens:   g.cfg.MaxTokens,
		}
		if registry != nil {
			req.Tools = registry.Specs()
		}

		stream, err := g.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			return g.terminal(ctx, err, total.String(), usedTools)
		}

		pass, err := g.consume(stream, &total, &emit)
		_ = stream.Close()
		if err != nil {
			return g.terminal(ctx, err, total.String(), usedTools)
		}

		if pass.safetyBlock {
			g.logger.Warn("generation stream blocked by safety filter",
				zap.Int("accumulated_chars", total.Len()))
			return Result{State: StateSafetyBlocked}, models.ErrSafetyBlocked
		}

		if registry != nil && pass.wantsTools && len(pass.toolCalls) > 0 {
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				Content:   pass.text,
				ToolCalls: pass.toolCalls,
			})
			for _, call := range pass.toolCalls {
				result := "Tool call limit reached for this turn; answer with what you already have."
				if toolBudget > 0 {
					toolBudget--
					usedTools = append(usedTools, call.Function.Name)
					result = registry.Execute(ctx, call.Function.Name, []byte(call.Function.Arguments))
					if len(result) > g.cfg.MaxToolResultChars {
						result = result[:g.cfg.MaxToolResultChars]
					}
				}
				msgs = append(msgs, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					ToolCallID: call.ID,
					Name:       call.Function.Name,
					Content:    result,
				})
			}
			continue
		}

		return Result{Text: total.String(), UsedTools: usedTools, State: StateComplete}, nil
	}
}

// consume drains one stream into the shared accumulator. emit is nilled
// out after the first forward failure so a dead transport stops chunk
// delivery without aborting the session.
func (g *Gateway) consume(stream ChatStream, total *strings.Builder, emit *func(string) error) (streamPass, error) {
	var pass streamPass
	var passText strings.Builder
	pending := make(map[int]*openai.ToolCall)

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return pass, err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.FinishReason == openai.FinishReasonContentFilter {
			pass.safetyBlock = true
			return pass, nil
		}
		if choice.FinishReason == openai.FinishReasonToolCalls {
			pass.wantsTools = true
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			cur, ok := pending[idx]
			if !ok {
				cur = &openai.ToolCall{Type: openai.ToolTypeFunction}
				pending[idx] = cur
			}
			if tc.ID != "" {
				cur.ID = tc.ID
			}
			if tc.Function.Name != "" {
				cur.Function.Name = tc.Function.Name
			}
			cur.Function.Arguments += tc.Function.Arguments
		}

		if chunk := choice.Delta.Content; chunk != "" && !pass.capReached {
			remaining := g.cfg.MaxResponseChars - total.Len()
			if remaining <= 0 {
				pass.capReached = true
				break
			}
			if len(chunk) > remaining {
				chunk = chunk[:remaining]
				pass.capReached = true
			}
			total.WriteString(chunk)
			passText.WriteString(chunk)
			if *emit != nil {
				if err := (*emit)(chunk); err != nil {
					g.logger.Warn("chunk delivery failed, suppressing further forwarding",
						zap.Error(err))
					*emit = nil
				}
			}
			if pass.capReached {
				g.logger.Warn("response length cap reached, truncating stream",
					zap.Int("max_chars", g.cfg.MaxResponseChars))
				break
			}
		}
	}

	pass.text = passText.String()
	pass.toolCalls = collectToolCalls(pending)
	return pass, nil
}

func collectToolCalls(pending map[int]*openai.ToolCall) []openai.ToolCall {
	if len(pending) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(pending))
	for idx := range pending {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	calls := make([]openai.ToolCall, 0, len(pending))
	for _, idx := range indexes {
		call := *pending[idx]
		if call.Function.Name == "" {
			continue
		}
		calls = append(calls, call)
	}
	return calls
}

// terminal classifies a stream failure. The raw error is logged here;
// callers surface only the sanitized taxonomy error.
func (g *Gateway) terminal(ctx context.Context, err error, text string, usedTools []string) (Result, error) {
	if ctx.Err() == context.DeadlineExceeded {
		g.logger.Error("generation stream timed out",
			zap.Duration("timeout", g.cfg.Timeout),
			zap.Error(err))
		return Result{Text: text, UsedTools: usedTools, State: StateTimedOut}, models.ErrExternalTimeout
	}
	g.logger.Error("generation stream failed", zap.Error(err))
	return Result{Text: text, UsedTools: usedTools, State: StateFailed}, fmt.Errorf("generation stream failed: %w", err)
}
