package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"edgelm/internal/config"
	"edgelm/internal/httpapi"
	"edgelm/internal/manager"
	"edgelm/internal/statsstore"
)

type serveFlags struct {
	inferTimeout time.Duration
	maxBody      int64
	preload      bool
	httpLog      string
	shutdownWait time.Duration
}

func newServeCmd(a *app) *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP API",
		Example: "  edgelm serve --addr :8080 --models-dir ~/models/llm --default-model qwen3-0.6b-q4",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyFlags(cmd, &a.cfg)
			return serve(cmd.Context(), a, f)
		},
	}
	fl := cmd.Flags()
	fl.String("addr", "", "HTTP listen address (default :8080)")
	addModelFlags(cmd)
	fl.String("stats-db", "", "SQLite file for generation statistics (empty disables)")
	fl.StringSlice("cors-origins", nil, "Enable CORS for these origins")
	fl.Bool("keep-loaded", true, "Keep the model resident between calls")
	fl.DurationVar(&f.inferTimeout, "infer-timeout", 0, "Upper bound for one /infer request (0 disables)")
	fl.Int64Var(&f.maxBody, "max-body-bytes", 1<<20, "Maximum JSON request body size")
	fl.BoolVar(&f.preload, "preload", false, "Load the default model at startup")
	fl.StringVar(&f.httpLog, "http-log", "", "Default per-request log level: off|error|info|debug")
	fl.DurationVar(&f.shutdownWait, "shutdown-timeout", 10*time.Second, "Grace period for in-flight requests on shutdown")
	return cmd
}

func serve(parent context.Context, a *app, f serveFlags) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := a.openStats()
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}
	m, err := a.buildManager(store)
	if err != nil {
		return err
	}
	defer m.Close()

	httpapi.SetLogger(a.log)
	httpapi.SetBaseContext(ctx)
	if f.httpLog != "" {
		httpapi.SetDefaultLogLevel(f.httpLog)
	}

	srv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           httpapi.NewMux(m, muxOptions(a, f, store)...),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.cfg.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if f.preload && a.cfg.DefaultModel != "" {
		go preload(ctx, a, m)
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	a.log.Info().Msg("shutting down")
	m.Stop()
	sctx, cancel := context.WithTimeout(context.Background(), f.shutdownWait)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		a.log.Warn().Err(err).Msg("graceful shutdown")
	}
	return nil
}

func preload(ctx context.Context, a *app, m *manager.Manager) {
	if err := m.Load(ctx, a.cfg.DefaultModel); err != nil {
		a.log.Warn().Err(err).Str("model", a.cfg.DefaultModel).Msg("preload failed")
	}
}

func muxOptions(a *app, f serveFlags, store *statsstore.Store) []httpapi.Option {
	opts := []httpapi.Option{httpapi.WithLimits(httpapi.Limits{MaxBody: f.maxBody, InferTimeout: f.inferTimeout})}
	if len(a.cfg.CORSOrigins) > 0 {
		opts = append(opts, httpapi.WithCORS(httpapi.CORS{Origins: a.cfg.CORSOrigins}))
	}
	if store != nil {
		opts = append(opts, httpapi.WithStats(store))
	}
	return opts
}

// addModelFlags registers the flags shared by commands that load models.
func addModelFlags(cmd *cobra.Command) {
	cmd.Flags().String("models-dir", "", "Directory scanned for .gguf files and model directories")
	cmd.Flags().String("default-model", "", "Model used when a request names none")
}

// applyFlags lets explicitly set flags override file and env values. Flags a
// command does not define are ignored.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	fl := cmd.Flags()
	if fl.Changed("addr") {
		cfg.Addr, _ = fl.GetString("addr")
	}
	if fl.Changed("models-dir") {
		cfg.ModelsDir, _ = fl.GetString("models-dir")
	}
	if fl.Changed("default-model") {
		cfg.DefaultModel, _ = fl.GetString("default-model")
	}
	if fl.Changed("stats-db") {
		cfg.StatsDB, _ = fl.GetString("stats-db")
	}
	if fl.Changed("cors-origins") {
		cfg.CORSOrigins, _ = fl.GetStringSlice("cors-origins")
	}
	if fl.Changed("keep-loaded") {
		v, _ := fl.GetBool("keep-loaded")
		cfg.KeepLoaded = &v
	}
}
