// Package prompt formats conversation turns with a chat template.
package prompt

import (
	"sort"
	"strings"

	"sessiond/internal/engine"
)

// Role of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one conversation message.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Builder renders turns. Build(turns) equals Prefix() + FormatTurn of each
// turn + Suffix(), so callers may count tokens per turn.
type Builder interface {
	Name() string
	Prefix() string
	FormatTurn(t Turn) string
	// Suffix opens the assistant reply.
	Suffix() string
}

// Build renders turns with b.
func Build(b Builder, turns []Turn) string {
	var sb strings.Builder
	sb.WriteString(b.Prefix())
	for _, t := range turns {
		sb.WriteString(b.FormatTurn(t))
	}
	sb.WriteString(b.Suffix())
	return sb.String()
}

// EndMarkers are turn terminators that always stop generation regardless of
// template.
var EndMarkers = []string{"<|im_end|>", "<|end|>", "<|eot_id|>", "</s>"}

type template struct {
	name   string
	prefix string
	turn   func(Turn) string
	suffix string
}

func (t template) Name() string             { return t.name }
func (t template) Prefix() string           { return t.prefix }
func (t template) FormatTurn(x Turn) string { return t.turn(x) }
func (t template) Suffix() string           { return t.suffix }

var templates = map[string]template{
	"chatml": {
		name: "chatml",
		turn: func(x Turn) string {
			return "<|im_start|>" + string(x.Role) + "\n" + x.Content + "<|im_end|>\n"
		},
		suffix: "<|im_start|>assistant\n",
	},
	"llama3": {
		name:   "llama3",
		prefix: "<|begin_of_text|>",
		turn: func(x Turn) string {
			return "<|start_header_id|>" + string(x.Role) + "<|end_header_id|>\n\n" + x.Content + "<|eot_id|>"
		},
		suffix: "<|start_header_id|>assistant<|end_header_id|>\n\n",
	},
	"phi3": {
		name: "phi3",
		turn: func(x Turn) string {
			return "<|" + string(x.Role) + "|>\n" + x.Content + "<|end|>\n"
		},
		suffix: "<|assistant|>\n",
	},
	"plain": {
		name: "plain",
		turn: func(x Turn) string {
			return string(x.Role) + ": " + x.Content + "\n"
		},
		suffix: "assistant: ",
	},
}

// ForTemplate returns the builder named id; "" selects plain.
func ForTemplate(id string) (Builder, error) {
	if id == "" {
		id = "plain"
	}
	t, ok := templates[strings.ToLower(id)]
	if !ok {
		return nil, engine.InvalidConfigError{Field: "template", Reason: "unknown template " + id}
	}
	return t, nil
}

// Templates lists the known template ids.
func Templates() []string {
	out := make([]string, 0, len(templates))
	for k := range templates {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
