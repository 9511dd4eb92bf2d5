package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"edgelm/internal/engine"
	"edgelm/internal/manager"
	"edgelm/pkg/types"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		model    string
		thinking string
		seed     int
		quiet    bool
	)
	cmd := &cobra.Command{
		Use:   "run [flags] <prompt...>",
		Short: "Generate one completion locally and stream it to stdout",
		Example: "  edgelm run -m qwen3-0.6b-q4 \"Write a haiku about the ocean.\"\n" +
			"  edgelm run --max-tokens 64 --temperature 0 \"2+2=\"",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			applyFlags(cmd, &a.cfg)
			req := types.InferRequest{Model: model, Prompt: strings.Join(args, " "), Seed: seed, Thinking: thinking}
			if err := overlayRunFlags(cmd, &req); err != nil {
				return err
			}
			return runOnce(cmd.Context(), a, req, cmd.OutOrStdout(), cmd.ErrOrStderr(), quiet)
		},
	}
	fl := cmd.Flags()
	addModelFlags(cmd)
	fl.StringVarP(&model, "model", "m", "", "Model id, name or path (default: the configured default model)")
	fl.Int("max-tokens", 0, "Maximum new tokens (default: configured max_new_tokens)")
	fl.Float64("temperature", 0, "Sampling temperature")
	fl.Float64("top-p", 0, "Nucleus sampling probability")
	fl.Int("top-k", 0, "Top-K candidates")
	fl.Float64("repeat-penalty", 0, "Repetition penalty")
	fl.IntVar(&seed, "seed", 0, "Random seed (0 lets the backend choose)")
	fl.StringVar(&thinking, "thinking", "", "Thinking directive: on|off")
	fl.BoolVarP(&quiet, "quiet", "q", false, "Print only the completion, without the statistics report")
	return cmd
}

// overlayRunFlags copies explicitly set sampling flags into req.
func overlayRunFlags(cmd *cobra.Command, req *types.InferRequest) error {
	fl := cmd.Flags()
	if fl.Changed("max-tokens") {
		v, err := fl.GetInt("max-tokens")
		if err != nil {
			return err
		}
		req.MaxTokens = &v
	}
	if fl.Changed("top-k") {
		v, err := fl.GetInt("top-k")
		if err != nil {
			return err
		}
		req.TopK = &v
	}
	for name, dst := range map[string]**float64{
		"temperature":    &req.Temperature,
		"top-p":          &req.TopP,
		"repeat-penalty": &req.RepeatPenalty,
	} {
		if !fl.Changed(name) {
			continue
		}
		v, err := fl.GetFloat64(name)
		if err != nil {
			return err
		}
		*dst = &v
	}
	return nil
}

// runOnce loads the model, streams one generation and prints the report.
// The first interrupt stops the generation gracefully.
func runOnce(ctx context.Context, a *app, req types.InferRequest, out, errOut io.Writer, quiet bool) error {
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

	p, err := m.RequestParams(req)
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigCtx.Done():
			if ctx.Err() == nil && m.Stop() {
				color.New(color.FgYellow).Fprintln(errOut, "\n[stopping]")
			}
		case <-done:
		}
	}()

	pr := &streamPrinter{out: out}
	err = m.Generate(ctx, manager.Request{Model: req.Model, Prompt: req.Prompt, Params: &p}, pr)
	fmt.Fprintln(out)
	if err != nil {
		return err
	}
	if !quiet {
		if _, report := engine.SplitReport(pr.text()); report != "" {
			color.New(color.Faint).Fprintln(errOut, strings.TrimPrefix(report, "\n\n"))
		}
	}
	return nil
}

// streamPrinter writes tokens as they arrive and keeps the final text.
type streamPrinter struct {
	out io.Writer

	mu   sync.Mutex
	full string
}

func (p *streamPrinter) OnToken(text string) {
	if strings.HasPrefix(text, engine.ReportPrefix) {
		return
	}
	_, _ = io.WriteString(p.out, text)
}

func (p *streamPrinter) OnComplete(full string) {
	p.mu.Lock()
	p.full = full
	p.mu.Unlock()
}

func (p *streamPrinter) OnError(error) {}

func (p *streamPrinter) text() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.full
}
