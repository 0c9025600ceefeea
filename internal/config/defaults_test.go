package config

import (
	"testing"

	"sessiond/internal/engine"
)

func TestWithDefaults(t *testing.T) {
	c := Config{MaxSessions: 2, CORS: CORS{Enabled: true}}.WithDefaults()
	if c.Addr != DefaultAddr || c.MemoryBudgetMB != DefaultMemoryBudgetMB || c.ContextSize != DefaultContextSize {
		t.Fatalf("defaults not applied: %+v", c)
	}
	if c.MaxSessions != 2 {
		t.Fatalf("explicit value overwritten: %d", c.MaxSessions)
	}
	if c.MaxWait.Std() != DefaultMaxWait || c.Template != "plain" {
		t.Fatalf("max_wait=%v template=%q", c.MaxWait.Std(), c.Template)
	}
	if len(c.CORS.Methods) == 0 || len(c.CORS.Headers) == 0 {
		t.Fatalf("cors defaults missing: %+v", c.CORS)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"negative budget", Config{MemoryBudgetMB: -1}, "memory_budget_mb"},
		{"negative max tokens", Config{MaxTokens: -5}, "max_tokens"},
		{"ratio out of range", Config{Window: Window{CompressionRatio: 1.5}}, "window.compression_ratio"},
		{"bad log format", Config{LogFormat: "xml"}, "log_format"},
		{"unknown template", Config{Template: "nope"}, "template"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if !engine.IsInvalidConfig(err) {
				t.Fatalf("want InvalidConfigError, got %v", err)
			}
			if e := err.(engine.InvalidConfigError); e.Field != tc.field {
				t.Fatalf("field = %q, want %q", e.Field, tc.field)
			}
		})
	}
}
