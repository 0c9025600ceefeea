package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"sessiond/internal/manager"
	"sessiond/internal/prompt"
	"sessiond/internal/sampler"
)

type generateFlags struct {
	model       string
	prompt      string
	system      string
	maxTokens   int
	temperature float32
	topK        int
	minP        float32
	seed        int64
	stops       []string
	stats       bool
}

func newGenerateCmd(c *cli) *cobra.Command {
	var g generateFlags
	cmd := &cobra.Command{
		Use:     "generate",
		Short:   "Run one generation locally and stream text to stdout",
		Example: "  sessiond generate --model tiny.ref.json --prompt \"Hello\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
			defer stop()
			return runGenerate(ctx, c, g)
		},
	}
	f := cmd.Flags()
	f.StringVar(&g.model, "model", "", "Model id (file name in the models directory)")
	f.StringVar(&g.prompt, "prompt", "", "User message")
	f.StringVar(&g.system, "system", "", "Optional system message")
	f.IntVar(&g.maxTokens, "max-tokens", 0, "Completion budget (0 = configured default)")
	f.Float32Var(&g.temperature, "temperature", 0, "Sampling temperature (0 = greedy)")
	f.IntVar(&g.topK, "top-k", 0, "Top-K cutoff (0 = off)")
	f.Float32Var(&g.minP, "min-p", 0, "Min-P cutoff (0 = off)")
	f.Int64Var(&g.seed, "seed", 0, "Random seed")
	f.StringSliceVar(&g.stops, "stop", nil, "Stop sequence (repeatable)")
	f.BoolVar(&g.stats, "stats", false, "Print generation metrics to stderr")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func runGenerate(ctx context.Context, c *cli, g generateFlags) error {
	a, err := buildApp(c.cfg, c.log, appOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = a.Shutdown(context.Background()) }()

	id, err := a.StartSession(ctx, g.model, manager.SessionConfig{})
	if err != nil {
		return err
	}
	var turns []prompt.Turn
	if g.system != "" {
		turns = append(turns, prompt.Turn{Role: prompt.RoleSystem, Content: g.system})
	}
	turns = append(turns, prompt.Turn{Role: prompt.RoleUser, Content: g.prompt})
	maxTokens := g.maxTokens
	if maxTokens == 0 {
		maxTokens = c.cfg.MaxTokens
	}
	stream, err := a.Generate(ctx, id, manager.GenerateRequest{
		Turns:     turns,
		Params:    sampler.Params{Temperature: g.temperature, TopK: g.topK, MinP: g.minP, Seed: g.seed},
		MaxTokens: maxTokens,
		Stops:     g.stops,
	})
	if err != nil {
		return err
	}
	defer stream.Close()
	for ch := range stream.Chunks() {
		fmt.Fprint(c.out, ch.Text)
		if !ch.Final {
			continue
		}
		fmt.Fprintln(c.out)
		if g.stats && ch.Metrics != nil {
			m := ch.Metrics
			fmt.Fprintf(os.Stderr, "finish=%s prompt=%d completion=%d ttft=%s tps=%.1f\n",
				ch.FinishReason, m.PromptTokens, m.CompletionTokens, m.TimeToFirstToken, m.TokensPerSecond)
		}
		if ch.Err != nil {
			return ch.Err
		}
	}
	return nil
}
