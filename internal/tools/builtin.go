package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RegisterBuiltins wires the stock tools. The stock/weather/search
// lookups that need real upstream APIs are registered by the host
// process with its own handlers; these builtins only cover what the
// gateway can answer locally.
func RegisterBuiltins(r *Registry) {
	r.Register(Spec{
		Name:        "current_time",
		Description: "Get the current date and time in UTC. Use when the user asks what time or day it is.",
	}, func(ctx context.Context, args json.RawMessage) (string, error) {
		return time.Now().UTC().Format(time.RFC1123), nil
	})

	r.Register(Spec{
		Name:        "memory_recall",
		Description: "Search the user's past conversations for relevant context. Use when the user refers to something they told you before.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "What to search for"}
			},
			"required": ["query"]
		}`),
	}, func(ctx context.Context, args json.RawMessage) (string, error) {
		// The pipeline swaps this handler per request (WithHandler) to
		// bind the search to the sending user. The unbound form must
		// not leak anything.
		return "No memory is available for this session.", nil
	})
}

// FormatRecall renders memory search output for the model. The
// "no results" sentinel is only produced when the search truly came
// back empty.
func FormatRecall(contents []string) string {
	if len(contents) == 0 {
		return "No relevant past conversations were found."
	}
	out := "Relevant past conversation excerpts:\n"
	for i, c := range contents {
		out += fmt.Sprintf("%d. %s\n", i+1, c)
	}
	return out
}
