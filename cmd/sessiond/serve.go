package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"sessiond/internal/config"
	"sessiond/internal/httpapi"
)

func newServeCmd(c *cli) *cobra.Command {
	def := config.Config{}.WithDefaults()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session API over HTTP",
		RunE:  func(cmd *cobra.Command, args []string) error { return serve(cmd.Context(), c) },
	}
	f := cmd.Flags()
	f.String("addr", def.Addr, "HTTP listen address, e.g. :8080")
	f.Int("memory-budget-mb", def.MemoryBudgetMB, "Memory budget in MB across all sessions")
	f.Int("max-sessions", def.MaxSessions, "Maximum resident sessions")
	f.Int("max-tokens", def.MaxTokens, "Default completion budget when a request omits max_tokens")
	f.Int("max-queue-depth", def.MaxQueueDepth, "Maximum queued generations per session")
	f.Duration("max-wait", def.MaxWait.Std(), "Maximum time a generation waits for its session")
	f.Int("chunk-buffer", def.ChunkBuffer, "Chunk stream capacity per generation")
	f.Duration("generation-timeout", 0, "Wall-clock limit per generation (0 = none)")
	f.Int("worker-pool-size", 0, "Concurrent decode loops (0 = NumCPU)")
	f.Bool("compression", false, "Compress history turns instead of only dropping them")
	f.Bool("cors", false, "Enable CORS")
	f.String("cors-origins", "", "Comma-separated allowed CORS origins")
	return cmd
}

func serve(ctx context.Context, c *cli) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, log := c.cfg, c.log
	a, err := buildApp(cfg, log, appOptions{Registerer: prometheus.DefaultRegisterer})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetBaseContext(ctx)
	httpapi.SetDefaultMaxTokens(cfg.MaxTokens)
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.Origins, cfg.CORS.Methods, cfg.CORS.Headers)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(a),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("models_dir", a.store.Dir()).Str("variant", a.detector.Detect()).
			Strs("providers", a.providers.Providers()).Msg("event=listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	// Graceful shutdown: stop accepting, then close sessions.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("event=http_shutdown_error")
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("event=manager_shutdown_error")
	}
	log.Info().Msg("event=stopped")
	return nil
}
