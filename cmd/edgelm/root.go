package main

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"edgelm/internal/config"
	"edgelm/internal/logging"
)

// app carries the resolved configuration and logger into subcommands.
type app struct {
	configPath string
	envFiles   []string
	logLevel   string
	logFormat  string

	cfg       config.Config
	log       zerolog.Logger
	logCloser io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{log: zerolog.Nop()}
	root := &cobra.Command{
		Use:           "edgelm",
		Short:         "On-device LLM inference with a single resident model",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logCloser != nil {
				_ = a.logCloser.Close()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "Config file (.yaml, .json or .toml)")
	pf.StringSliceVar(&a.envFiles, "env-file", []string{".env"}, "Env files loaded before EDGELM_* overrides (missing files are skipped)")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level: debug|info|warn|error|off (overrides config)")
	pf.StringVar(&a.logFormat, "log-format", "", "Log format: json|console (overrides config)")

	root.AddCommand(newServeCmd(a), newRunCmd(a), newModelsCmd(a), newStatsCmd(a))
	return root
}

// init resolves config from env files, the config file and EDGELM_* variables,
// then applies the global flags and builds the logger.
func (a *app) init() error {
	cfg, err := config.Resolve(a.configPath, a.envFiles...)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	log, closer, err := logging.Setup(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg, a.log, a.logCloser = cfg, log, closer
	return nil
}
