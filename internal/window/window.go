// Package window fits conversation history into a model's context window.
package window

import (
	"unicode/utf8"

	"github.com/rs/zerolog"

	"sessiond/internal/engine"
	"sessiond/internal/prompt"
)

// Defaults applied when Config fields are unset.
const (
	defaultCompressionRatio   = 0.5
	defaultCompressionTrigger = 0.5
)

// Tokenizer counts tokens the way the loaded model does.
type Tokenizer interface {
	Tokenize(text string) ([]int, error)
}

// TokenizerFunc adapts a function to Tokenizer.
type TokenizerFunc func(string) ([]int, error)

func (f TokenizerFunc) Tokenize(s string) ([]int, error) { return f(s) }

// Config tunes history compression.
type Config struct {
	CompressionEnabled bool
	// CompressionRatio is the fraction of a turn's content kept when it is
	// compressed.
	CompressionRatio float64
	// CompressionTrigger is the fraction of history turns that plain
	// dropping must exceed before compression is tried.
	CompressionTrigger float64
}

// Target is the session-side input to Prepare.
type Target struct {
	ContextSize int
	Builder     prompt.Builder
	Tokenizer   Tokenizer
}

// Result is a prepared prompt. len(Tokens)+maxTokens never exceeds the
// context size.
type Result struct {
	Prompt     string
	Tokens     []int
	Turns      []prompt.Turn
	Budget     int
	Dropped    int
	Compressed int
}

// Manager prepares token sequences within a context budget.
type Manager struct {
	cfg Config
	log zerolog.Logger
}

// New returns a Manager with defaults applied to cfg.
func New(cfg Config, log zerolog.Logger) *Manager {
	if cfg.CompressionRatio <= 0 || cfg.CompressionRatio >= 1 {
		cfg.CompressionRatio = defaultCompressionRatio
	}
	if cfg.CompressionTrigger <= 0 || cfg.CompressionTrigger > 1 {
		cfg.CompressionTrigger = defaultCompressionTrigger
	}
	return &Manager{cfg: cfg, log: log}
}

type entry struct {
	turn   prompt.Turn
	pos    int
	tokens int
	keep   bool
	system bool
	shrunk bool
}

// Prepare fits history plus input into ContextSize-maxTokens tokens. System
// turns and input are always kept; other history is taken newest first and
// the rest is dropped or, when enabled, compressed. Output keeps the original
// turn order.
func (m *Manager) Prepare(t Target, history []prompt.Turn, input prompt.Turn, maxTokens int) (Result, error) {
	if maxTokens <= 0 {
		return Result{}, engine.InvalidConfigError{Field: "max_tokens", Reason: "must be > 0"}
	}
	if t.ContextSize <= 0 {
		return Result{}, engine.InvalidConfigError{Field: "context_size", Reason: "must be > 0"}
	}
	budget := t.ContextSize - maxTokens
	if budget <= 0 {
		return Result{}, engine.ContextExceededError{Tokens: maxTokens, Limit: t.ContextSize}
	}
	count := func(s string) (int, error) {
		toks, err := t.Tokenizer.Tokenize(s)
		return len(toks), err
	}

	fixed, err := count(t.Builder.Prefix() + t.Builder.Suffix())
	if err != nil {
		return Result{}, err
	}
	n, err := count(t.Builder.FormatTurn(input))
	if err != nil {
		return Result{}, err
	}
	fixed += n

	entries := make([]*entry, len(history))
	var droppable []*entry
	for i, turn := range history {
		e := &entry{turn: turn, pos: i, system: turn.Role == prompt.RoleSystem}
		if e.tokens, err = count(t.Builder.FormatTurn(turn)); err != nil {
			return Result{}, err
		}
		if e.system {
			e.keep = true
			fixed += e.tokens
		} else {
			droppable = append(droppable, e)
		}
		entries[i] = e
	}
	if fixed > budget {
		return Result{}, engine.ContextExceededError{Tokens: fixed + maxTokens, Limit: t.ContextSize}
	}

	used := fixed
	kept := 0
	for i := len(droppable) - 1; i >= 0; i-- {
		e := droppable[i]
		if used+e.tokens > budget {
			break
		}
		e.keep = true
		used += e.tokens
		kept++
	}

	if dropped := len(droppable) - kept; m.cfg.CompressionEnabled && dropped > 0 &&
		float64(dropped)/float64(len(droppable)) > m.cfg.CompressionTrigger {
		for i := len(droppable) - kept - 1; i >= 0; i-- {
			e := droppable[i]
			short := prompt.Turn{Role: e.turn.Role, Content: truncateRunes(e.turn.Content, m.cfg.CompressionRatio)}
			n, err := count(t.Builder.FormatTurn(short))
			if err != nil {
				return Result{}, err
			}
			if used+n > budget {
				break
			}
			e.turn, e.tokens, e.keep, e.shrunk = short, n, true, true
			used += n
		}
	}

	for {
		res, err := assemble(t, entries, input, budget)
		if err != nil {
			return Result{}, err
		}
		if len(res.Tokens) <= budget {
			for _, e := range entries {
				switch {
				case !e.keep:
					res.Dropped++
				case e.shrunk:
					res.Compressed++
				}
			}
			if res.Dropped > 0 || res.Compressed > 0 {
				m.log.Debug().Int("dropped", res.Dropped).Int("compressed", res.Compressed).
					Int("tokens", len(res.Tokens)).Int("budget", budget).Msg("event=context_trimmed")
			}
			return res, nil
		}
		// Template joins can tokenize longer than the per-turn sum; drop the
		// oldest kept turn and retry.
		if !dropOldest(droppable) {
			return Result{}, engine.ContextExceededError{Tokens: len(res.Tokens) + maxTokens, Limit: t.ContextSize}
		}
	}
}

func assemble(t Target, entries []*entry, input prompt.Turn, budget int) (Result, error) {
	turns := make([]prompt.Turn, 0, len(entries)+1)
	for _, e := range entries {
		if e.keep {
			turns = append(turns, e.turn)
		}
	}
	turns = append(turns, input)
	text := prompt.Build(t.Builder, turns)
	toks, err := t.Tokenizer.Tokenize(text)
	if err != nil {
		return Result{}, err
	}
	return Result{Prompt: text, Tokens: toks, Turns: turns, Budget: budget}, nil
}

func dropOldest(droppable []*entry) bool {
	for _, e := range droppable {
		if e.keep {
			e.keep = false
			return true
		}
	}
	return false
}

// truncateRunes keeps the leading ratio of s, cut on a rune boundary.
func truncateRunes(s string, ratio float64) string {
	n := utf8.RuneCountInString(s)
	keep := int(float64(n) * ratio)
	if keep >= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == keep {
			return s[:pos]
		}
		i++
	}
	return s
}
