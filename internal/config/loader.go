package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"edgelm/internal/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EDGELM_"

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by WithDefaults.
type Config struct {
	Addr         string   `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir    string   `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	DefaultModel string   `json:"default_model" yaml:"default_model" toml:"default_model"`
	KeepLoaded   *bool    `json:"keep_loaded" yaml:"keep_loaded" toml:"keep_loaded"`
	StatsDB      string   `json:"stats_db" yaml:"stats_db" toml:"stats_db"`
	CORSOrigins  []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`

	Engine   Engine         `json:"engine" yaml:"engine" toml:"engine"`
	Sampling Sampling       `json:"sampling" yaml:"sampling" toml:"sampling"`
	Log      logging.Config `json:"log" yaml:"log" toml:"log"`
}

// Engine holds native allocation, generation and health knobs.
type Engine struct {
	ContextSize      int      `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size"`
	Threads          int      `json:"threads" yaml:"threads" toml:"threads"`
	UseGPU           *bool    `json:"use_gpu" yaml:"use_gpu" toml:"use_gpu"`
	GPULayers        int      `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
	MaxSeqLen        int      `json:"max_seq_len" yaml:"max_seq_len" toml:"max_seq_len"`
	MaxNewTokens     int      `json:"max_new_tokens" yaml:"max_new_tokens" toml:"max_new_tokens"`
	PrioritizeManual bool     `json:"prioritize_manual" yaml:"prioritize_manual" toml:"prioritize_manual"`
	NoThinking       bool     `json:"no_thinking" yaml:"no_thinking" toml:"no_thinking"`
	HealthInterval   Duration `json:"health_interval" yaml:"health_interval" toml:"health_interval"`
	StallTimeout     Duration `json:"stall_timeout" yaml:"stall_timeout" toml:"stall_timeout"`
	MaxRuntime       Duration `json:"max_runtime" yaml:"max_runtime" toml:"max_runtime"`
	InferenceBudget  Duration `json:"inference_budget" yaml:"inference_budget" toml:"inference_budget"`
	MaxRetries       int      `json:"max_retries" yaml:"max_retries" toml:"max_retries"`
	LoadWait         Duration `json:"load_wait" yaml:"load_wait" toml:"load_wait"`
	StopWait         Duration `json:"stop_wait" yaml:"stop_wait" toml:"stop_wait"`
}

// Sampling holds the manual sampling defaults.
type Sampling struct {
	Temperature       float64 `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopK              int     `json:"top_k" yaml:"top_k" toml:"top_k"`
	TopP              float64 `json:"top_p" yaml:"top_p" toml:"top_p"`
	RepetitionPenalty float64 `json:"repetition_penalty" yaml:"repetition_penalty" toml:"repetition_penalty"`
	Seed              int     `json:"seed" yaml:"seed" toml:"seed"`
}

// Duration is a time.Duration written as "30s" in every config format.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDotEnv loads the given .env files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if p != "" && fileExists(p) {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// Resolve builds the effective configuration: .env files, then the config
// file (optional), then EDGELM_* environment overrides, then defaults.
func Resolve(path string, dotenv ...string) (Config, error) {
	if err := LoadDotEnv(dotenv...); err != nil {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	var cfg Config
	if path != "" {
		c, err := Load(path)
		if err != nil {
			return Config{}, err
		}
		cfg = c
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg.WithDefaults(), nil
}

// ApplyEnv overlays EDGELM_* variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}
	e.str("ADDR", &c.Addr)
	e.str("MODELS_DIR", &c.ModelsDir)
	e.str("DEFAULT_MODEL", &c.DefaultModel)
	e.boolPtr("KEEP_LOADED", &c.KeepLoaded)
	e.str("STATS_DB", &c.StatsDB)
	if v, ok := e.get("CORS_ORIGINS"); ok {
		c.CORSOrigins = SplitCSV(v)
	}

	e.integer("CTX_SIZE", &c.Engine.ContextSize)
	e.integer("THREADS", &c.Engine.Threads)
	e.boolPtr("USE_GPU", &c.Engine.UseGPU)
	e.integer("GPU_LAYERS", &c.Engine.GPULayers)
	e.integer("MAX_SEQ_LEN", &c.Engine.MaxSeqLen)
	e.integer("MAX_NEW_TOKENS", &c.Engine.MaxNewTokens)
	e.boolean("PRIORITIZE_MANUAL", &c.Engine.PrioritizeManual)
	e.boolean("NO_THINKING", &c.Engine.NoThinking)
	e.duration("STALL_TIMEOUT", &c.Engine.StallTimeout)
	e.duration("MAX_RUNTIME", &c.Engine.MaxRuntime)
	e.duration("INFERENCE_BUDGET", &c.Engine.InferenceBudget)

	e.float("TEMPERATURE", &c.Sampling.Temperature)
	e.integer("TOP_K", &c.Sampling.TopK)
	e.float("TOP_P", &c.Sampling.TopP)
	e.float("REPETITION_PENALTY", &c.Sampling.RepetitionPenalty)

	e.str("LOG_LEVEL", &c.Log.Level)
	e.str("LOG_FORMAT", &c.Log.Format)
	e.str("LOG_FILE", &c.Log.File)
	return e.err
}

// WithDefaults fills unspecified fields.
func (c Config) WithDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ModelsDir == "" {
		c.ModelsDir = "~/models/llm"
	}
	if c.KeepLoaded == nil {
		c.KeepLoaded = boolPtr(true)
	}
	if c.Engine.UseGPU == nil {
		c.Engine.UseGPU = boolPtr(true)
	}
	if c.Sampling == (Sampling{}) {
		c.Sampling = Sampling{Temperature: 0.7, TopK: 40, TopP: 0.9, RepetitionPenalty: 1.1}
	}
	return c
}

// SplitCSV splits a comma-separated list, trimming blanks.
func SplitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) boolPtr(key string, dst **bool) {
	var b bool
	if _, ok := e.get(key); !ok {
		return
	}
	before := e.err
	e.boolean(key, &b)
	if e.err == before {
		*dst = &b
	}
}

func (e *envReader) duration(key string, dst *Duration) {
	if v, ok := e.get(key); ok {
		if err := dst.UnmarshalText([]byte(v)); err != nil {
			e.fail(key, err)
		}
	}
}

func boolPtr(b bool) *bool { return &b }

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}
