// Package logging builds the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults for file output.
const (
	DefaultMaxSizeMB  = 100
	DefaultMaxBackups = 5
	DefaultMaxAgeDays = 30
)

// Config selects level, format and destinations.
type Config struct {
	// Level is a zerolog level name; empty means info.
	Level string `yaml:"level" json:"level" toml:"level"`
	// Format is "console" or "json". Empty picks console on a terminal.
	Format string `yaml:"format" json:"format" toml:"format"`
	// File, when set, receives JSON logs with size-based rotation in
	// addition to the console stream.
	File       string `yaml:"file" json:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" json:"compress" toml:"compress"`
}

// ParseLevel accepts zerolog level names plus "off" and "warning".
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return zerolog.InfoLevel, nil
	case "off", "none":
		return zerolog.Disabled, nil
	case "warning":
		return zerolog.WarnLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q", s)
	}
	return lvl, nil
}

// Setup returns a logger writing to stderr and, if configured, to a rotated
// file. The returned closer flushes and closes the file; it is never nil.
func Setup(cfg Config) (zerolog.Logger, io.Closer, error) {
	return setup(cfg, os.Stderr)
}

func setup(cfg Config, console io.Writer) (zerolog.Logger, io.Closer, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer
	switch strings.ToLower(cfg.Format) {
	case "json":
		out = console
	case "console", "":
		if cfg.Format == "" && !isTerminal(console) {
			out = console
			break
		}
		out = zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05.000"}
	default:
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: orDefault(cfg.MaxBackups, DefaultMaxBackups),
			MaxAge:     orDefault(cfg.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   cfg.Compress,
		}
		out = zerolog.MultiLevelWriter(out, lj)
		closer = lj
	}
	log := zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	return log, closer, nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
