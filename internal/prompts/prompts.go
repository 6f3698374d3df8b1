package prompts

import (
	"fmt"
	"strings"
)

// Catalog is the static instruction set prepended to every model
// session. It is plain configuration: call sites compose it but never
// edit the text inline.
type Catalog struct {
	System       string
	ToolGuidance string
}

// Default returns the stock instruction catalog.
func Default() Catalog {
	return Catalog{
		System: `You are a helpful assistant in a real-time chat application.
Answer concisely and stay on the user's topic. If you are unsure about
something, say so instead of guessing.`,
		ToolGuidance: `You have access to external tools. Call a tool only when the user's
request needs live data you do not have. Never invent tool output; if a
tool fails, tell the user the lookup was unavailable.`,
	}
}

// ToolSummary renders a one-line-per-tool catalog summary for the
// instruction preamble. Descriptions are the model's only signal for
// when to pick a tool, so they come straight from the registry.
func ToolSummary(names, descriptions []string) string {
	if len(names) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Available tools:\n")
	for i, name := range names {
		desc := ""
		if i < len(descriptions) {
			desc = descriptions[i]
		}
		fmt.Fprintf(&b, "- %s: %s\n", name, desc)
	}
	return strings.TrimRight(b.String(), "\n")
}
