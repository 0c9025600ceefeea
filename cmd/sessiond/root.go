package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"sessiond/internal/config"
)

// cli holds state shared by all subcommands once flags are parsed.
type cli struct {
	configPath string
	cfg        config.Config
	log        zerolog.Logger
	out        io.Writer
}

func buildRootCmd() *cobra.Command { return buildRootCmdWith(&cli{out: os.Stdout}) }

// buildRootCmdWith constructs the command tree. Configuration precedence is
// flag > file > default.
func buildRootCmdWith(c *cli) *cobra.Command {
	def := config.Config{}.WithDefaults()
	root := &cobra.Command{
		Use:           "sessiond",
		Short:         "On-device LLM session engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", os.Getenv("SESSIOND_CONFIG"), "Config file (.yaml, .json or .toml)")
	pf.String("models-dir", def.ModelsDir, "Directory to scan for *.gguf and *.ref.json models")
	pf.String("lib-dir", def.LibDir, "Directory holding native backend builds")
	pf.String("log-level", def.LogLevel, "Log level: debug|info|warn|error")
	pf.String("log-format", def.LogFormat, "Log format: console|json")
	pf.Int("context-size", def.ContextSize, "Default context size in tokens")
	pf.Int("threads", 0, "CPU threads per session (0 = max(1, min(8, NumCPU-2)))")
	pf.String("template", def.Template, "Default chat template: chatml|llama3|phi3|plain")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var fileCfg config.Config
		if c.configPath != "" {
			var err error
			if fileCfg, err = config.Load(c.configPath); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
		}
		if err := applyFlags(&fileCfg, cmd.Flags()); err != nil {
			return err
		}
		c.cfg = fileCfg.WithDefaults()
		if err := c.cfg.Validate(); err != nil {
			return err
		}
		log, err := newLogger(c.cfg.LogLevel, c.cfg.LogFormat, os.Stderr)
		if err != nil {
			return err
		}
		c.log = log
		return nil
	}

	root.AddCommand(newServeCmd(c), newDetectCmd(c), newGenerateCmd(c), newModelsCmd(c), newDemoModelCmd(c))
	return root
}

// applyFlags copies explicitly set flags over file values.
func applyFlags(cfg *config.Config, fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		v := f.Value.String()
		switch f.Name {
		case "addr":
			cfg.Addr = v
		case "models-dir":
			cfg.ModelsDir = v
		case "lib-dir":
			cfg.LibDir = v
		case "log-level":
			cfg.LogLevel = v
		case "log-format":
			cfg.LogFormat = v
		case "template":
			cfg.Template = v
		case "context-size":
			cfg.ContextSize, err = fs.GetInt(f.Name)
		case "threads":
			cfg.Threads, err = fs.GetInt(f.Name)
		case "memory-budget-mb":
			cfg.MemoryBudgetMB, err = fs.GetInt(f.Name)
		case "max-sessions":
			cfg.MaxSessions, err = fs.GetInt(f.Name)
		case "max-tokens":
			cfg.MaxTokens, err = fs.GetInt(f.Name)
		case "max-queue-depth":
			cfg.MaxQueueDepth, err = fs.GetInt(f.Name)
		case "chunk-buffer":
			cfg.ChunkBuffer, err = fs.GetInt(f.Name)
		case "worker-pool-size":
			cfg.WorkerPoolSize, err = fs.GetInt(f.Name)
		case "max-wait":
			var d time.Duration
			d, err = fs.GetDuration(f.Name)
			cfg.MaxWait = config.Duration(d)
		case "generation-timeout":
			var d time.Duration
			d, err = fs.GetDuration(f.Name)
			cfg.GenerationTimeout = config.Duration(d)
		case "compression":
			cfg.Window.CompressionEnabled, err = fs.GetBool(f.Name)
		case "cors":
			cfg.CORS.Enabled, err = fs.GetBool(f.Name)
		case "cors-origins":
			cfg.CORS.Origins = splitCSV(v)
		}
	})
	return err
}

func newLogger(level, format string, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q", level)
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// splitCSV splits a comma-separated list, trimming spaces and dropping empties.
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
