package tools

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Handler executes one tool call. Handlers receive the raw JSON
// arguments the model produced; whatever they return (or fail with)
// is sanitized by the registry before it goes anywhere near a client.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Spec describes a tool to the model. Description is the sole control
// surface for when the model invokes the tool, so it is data, not code.
type Spec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Registry is a name-to-handler table built at construction time.
// Adding a tool means registering an entry, not adding a branch.
type Registry struct {
	specs    []Spec
	handlers map[string]Handler
	logger   *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register adds a tool. A duplicate name replaces the handler but keeps
// a single catalog entry.
func (r *Registry) Register(spec Spec, handler Handler) {
	if _, exists := r.handlers[spec.Name]; !exists {
		r.specs = append(r.specs, spec)
	}
	r.handlers[spec.Name] = handler
}

// Specs renders the catalog in the generation API's tool schema.
func (r *Registry) Specs() []openai.Tool {
	out := make([]openai.Tool, 0, len(r.specs))
	for _, s := range r.specs {
		params := s.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// Names and Descriptions feed the instruction-preamble tool summary.
func (r *Registry) Names() []string {
	names := make([]string, len(r.specs))
	for i, s := range r.specs {
		names[i] = s.Name
	}
	return names
}

func (r *Registry) Descriptions() []string {
	descs := make([]string, len(r.specs))
	for i, s := range r.specs {
		descs[i] = s.Description
	}
	return descs
}

// WithHandler returns a shallow copy of the registry with one handler
// swapped out. Used per request to bind user-scoped tools (memory
// recall) without mutating the shared table.
func (r *Registry) WithHandler(name string, handler Handler) *Registry {
	handlers := make(map[string]Handler, len(r.handlers))
	for k, v := range r.handlers {
		handlers[k] = v
	}
	handlers[name] = handler
	return &Registry{specs: r.specs, handlers: handlers, logger: r.logger}
}

// Execute runs a tool by name and always returns usable result text.
// Unknown names, handler errors and handler panics all degrade to a
// generic message; raw error text is logged server-side only because
// it can carry paths, credentials or stack fragments.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (result string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool handler panicked",
				zap.String("tool", name),
				zap.Any("panic", rec))
			result = fmt.Sprintf("The %s tool failed. Tell the user the lookup was unavailable.", name)
		}
	}()

	handler, ok := r.handlers[name]
	if !ok {
		r.logger.Warn("model requested unknown tool", zap.String("tool", name))
		return fmt.Sprintf("Unknown function: %s", name)
	}

	out, err := handler(ctx, args)
	if err != nil {
		r.logger.Error("tool handler failed",
			zap.String("tool", name),
			zap.Error(err))
		return fmt.Sprintf("The %s tool failed. Tell the user the lookup was unavailable.", name)
	}
	return out
}
