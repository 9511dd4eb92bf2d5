package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", `addr: :9999
models_dir: /tmp
default_model: m1
keep_loaded: false
engine:
  ctx_size: 4096
  threads: 4
  stall_timeout: 45s
  prioritize_manual: true
sampling:
  temperature: 0.2
log:
  level: debug
  format: json
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.ModelsDir != "/tmp" || cfg.DefaultModel != "m1" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.KeepLoaded == nil || *cfg.KeepLoaded {
		t.Fatalf("keep_loaded: %v", cfg.KeepLoaded)
	}
	if cfg.Engine.ContextSize != 4096 || cfg.Engine.Threads != 4 || cfg.Engine.StallTimeout.Std() != 45*time.Second || !cfg.Engine.PrioritizeManual {
		t.Fatalf("engine: %+v", cfg.Engine)
	}
	if cfg.Sampling.Temperature != 0.2 || cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("sampling/log: %+v %+v", cfg.Sampling, cfg.Log)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","models_dir":"/m","default_model":"m2","engine":{"max_runtime":"2m","gpu_layers":20},"cors_origins":["http://a"]}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.ModelsDir != "/m" || cfg.DefaultModel != "m2" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Engine.MaxRuntime.Std() != 2*time.Minute || cfg.Engine.GPULayers != 20 || len(cfg.CORSOrigins) != 1 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\nmodels_dir=\"/x\"\ndefault_model=\"m3\"\n[engine]\ninference_budget=\"90s\"\nno_thinking=true\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.ModelsDir != "/x" || cfg.DefaultModel != "m3" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Engine.InferenceBudget.Std() != 90*time.Second || !cfg.Engine.NoThinking {
		t.Fatalf("engine: %+v", cfg.Engine)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
	p = writeTempFile(t, d, "dur.yaml", "engine:\n  stall_timeout: soon\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected duration parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"EDGELM_ADDR":              ":9000",
		"EDGELM_KEEP_LOADED":       "false",
		"EDGELM_CORS_ORIGINS":      "http://a, http://b ,",
		"EDGELM_THREADS":           "8",
		"EDGELM_USE_GPU":           "0",
		"EDGELM_STALL_TIMEOUT":     "10s",
		"EDGELM_TEMPERATURE":       "0.4",
		"EDGELM_PRIORITIZE_MANUAL": "true",
		"EDGELM_LOG_LEVEL":         "warn",
		"EDGELM_MODELS_DIR":        "  ",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := Config{ModelsDir: "/from/file", Addr: ":1"}
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Addr != ":9000" || cfg.ModelsDir != "/from/file" {
		t.Fatalf("addr/models: %+v", cfg)
	}
	if cfg.KeepLoaded == nil || *cfg.KeepLoaded {
		t.Fatalf("keep loaded: %v", cfg.KeepLoaded)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://b" {
		t.Fatalf("cors: %q", cfg.CORSOrigins)
	}
	if cfg.Engine.Threads != 8 || cfg.Engine.UseGPU == nil || *cfg.Engine.UseGPU || cfg.Engine.StallTimeout.Std() != 10*time.Second {
		t.Fatalf("engine: %+v", cfg.Engine)
	}
	if cfg.Sampling.Temperature != 0.4 || !cfg.Engine.PrioritizeManual || cfg.Log.Level != "warn" {
		t.Fatalf("sampling/log: %+v %+v", cfg.Sampling, cfg.Log)
	}

	bad := Config{}
	err := bad.ApplyEnv(func(k string) (string, bool) {
		if k == "EDGELM_THREADS" {
			return "many", true
		}
		return "", false
	})
	if err == nil {
		t.Fatalf("expected error for malformed integer")
	}
}

func TestResolve_DotEnvFileAndDefaults(t *testing.T) {
	d := t.TempDir()
	envFile := writeTempFile(t, d, ".env", "EDGELM_DEFAULT_MODEL=from-dotenv\n")
	cfgFile := writeTempFile(t, d, "cfg.yaml", "default_model: from-file\nmodels_dir: /models\n")
	t.Setenv("EDGELM_DEFAULT_MODEL", "")
	os.Unsetenv("EDGELM_DEFAULT_MODEL")

	cfg, err := Resolve(cfgFile, envFile, filepath.Join(d, "missing.env"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.DefaultModel != "from-dotenv" {
		t.Fatalf("env should override file: %q", cfg.DefaultModel)
	}
	if cfg.ModelsDir != "/models" || cfg.Addr != ":8080" {
		t.Fatalf("defaults: %+v", cfg)
	}
	if cfg.KeepLoaded == nil || !*cfg.KeepLoaded || cfg.Sampling.TopK != 40 {
		t.Fatalf("defaults: %+v", cfg)
	}
}
