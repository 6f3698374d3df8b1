package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/n8watkins/GeminiGPT-sub000/internal/models"
	"github.com/n8watkins/GeminiGPT-sub000/internal/pipeline"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 20,
	WriteBufferSize: 1 << 20,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// event is the envelope for every outbound frame.
type event struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

type typingPayload struct {
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

type chunkPayload struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
	IsComplete     bool   `json:"is_complete"`
}

type rateLimitExceededPayload struct {
	ConversationID string `json:"conversation_id"`
	RetryAfterMs   int64  `json:"retry_after_ms"`
}

// wsEmitter adapts one websocket connection to the pipeline's Emitter.
// Writes are serialized: the pipeline streams from one goroutine while
// typing/limit events may arrive from another.
type wsEmitter struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	logger *zap.Logger
}

func (e *wsEmitter) send(name string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.conn.WriteJSON(event{Event: name, Payload: payload}); err != nil {
		e.logger.Warn("failed to write websocket event",
			zap.String("event", name),
			zap.Error(err))
		return err
	}
	return nil
}

func (e *wsEmitter) Typing(conversationID string, isTyping bool) error {
	return e.send("typing", typingPayload{ConversationID: conversationID, IsTyping: isTyping})
}

func (e *wsEmitter) Chunk(conversationID, text string, isComplete bool) error {
	return e.send("message-chunk", chunkPayload{ConversationID: conversationID, Text: text, IsComplete: isComplete})
}

func (e *wsEmitter) RateLimitInfo(conversationID string, info models.RateLimitInfo) error {
	return e.send("rate-limit-info", struct {
		ConversationID string `json:"conversation_id"`
		models.RateLimitInfo
	}{ConversationID: conversationID, RateLimitInfo: info})
}

func (e *wsEmitter) RateLimitExceeded(conversationID string, retryAfterMs int64) error {
	return e.send("rate-limit-exceeded", rateLimitExceededPayload{ConversationID: conversationID, RetryAfterMs: retryAfterMs})
}

// Server is the duplex transport front for the message pipeline. Each
// connection gets its own read loop; each inbound message is processed
// on its own goroutine so connections never block each other.
type Server struct {
	pipeline *pipeline.Pipeline
	logger   *zap.Logger
}

func New(p *pipeline.Pipeline, logger *zap.Logger) *Server {
	return &Server{pipeline: p, logger: logger}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade websocket", zap.Error(err))
		return
	}
	defer conn.Close()
	s.logger.Info("websocket client connected", zap.String("remote", conn.RemoteAddr().String()))

	em := &wsEmitter{conn: conn, logger: s.logger}

	for {
		var in models.InboundMessage
		if err := conn.ReadJSON(&in); err != nil {
			s.logger.Info("websocket client disconnected", zap.Error(err))
			return
		}
		// Detached context: a disconnect mid-stream stops chunk
		// delivery via emitter failures, but the turn still runs to
		// completion so it can be indexed.
		go s.pipeline.Handle(context.Background(), em, in)
	}
}

// ListenAndServe blocks serving websocket upgrades on addr.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	s.logger.Info("gateway listening", zap.String("addr", addr))
	return srv.ListenAndServe()
}
