package engine

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestParseSidecar_JSON(t *testing.T) {
	o := ParseSidecar("params.json", []byte(`{"Temperature": 0.3, "top_p": "0.8", "TOP_K": 20, "repeat_penalty": 1.2, "unknown": true}`))
	if o.Temperature == nil || *o.Temperature != 0.3 {
		t.Fatalf("temperature: %+v", o.Temperature)
	}
	if o.TopP == nil || *o.TopP != 0.8 {
		t.Fatalf("top_p: %+v", o.TopP)
	}
	if o.TopK == nil || *o.TopK != 20 {
		t.Fatalf("top_k: %+v", o.TopK)
	}
	if o.RepetitionPenalty == nil || *o.RepetitionPenalty != 1.2 {
		t.Fatalf("repeat_penalty: %+v", o.RepetitionPenalty)
	}
}

func TestParseSidecar_KeyValueWithMalformedValues(t *testing.T) {
	data := "# sampling\ntemperature = abc\ntop_k=32\nrepetition_penalty=1.05\ntop_p = 7\nnonsense line\n"
	o := ParseSidecar("params.txt", []byte(data))
	if o.Temperature != nil {
		t.Fatalf("malformed temperature should be ignored")
	}
	if o.TopP != nil {
		t.Fatalf("out-of-range top_p should be ignored")
	}
	if o.TopK == nil || *o.TopK != 32 {
		t.Fatalf("top_k: %+v", o.TopK)
	}
	if o.RepetitionPenalty == nil || *o.RepetitionPenalty != 1.05 {
		t.Fatalf("repetition_penalty: %+v", o.RepetitionPenalty)
	}
}

func TestParseSidecar_StructuredFormats(t *testing.T) {
	y := ParseSidecar("params.yaml", []byte("temperature: 0.4\ntop_k: 10\n"))
	if y.Temperature == nil || *y.Temperature != 0.4 || y.TopK == nil || *y.TopK != 10 {
		t.Fatalf("yaml: %+v", y)
	}
	tm := ParseSidecar("params.toml", []byte("temperature = 0.5\ntop_k = 11\n"))
	if tm.Temperature == nil || *tm.Temperature != 0.5 || tm.TopK == nil || *tm.TopK != 11 {
		t.Fatalf("toml: %+v", tm)
	}
	bare := ParseSidecar("params", []byte(`{"temperature": 0.6}`))
	if bare.Temperature == nil || *bare.Temperature != 0.6 {
		t.Fatalf("extensionless json: %+v", bare)
	}
}

func TestLoadSidecar(t *testing.T) {
	dir := t.TempDir()
	o, err := LoadSidecar(dir)
	if err != nil || !o.Empty() {
		t.Fatalf("empty dir: %+v, %v", o, err)
	}
	p := filepath.Join(dir, "params.txt")
	if err := os.WriteFile(p, []byte("temperature=0.3\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	o, err = LoadSidecar(dir)
	if err != nil {
		t.Fatalf("LoadSidecar: %v", err)
	}
	if o.Source != p || o.Temperature == nil || *o.Temperature != 0.3 {
		t.Fatalf("unexpected overrides: %+v", o)
	}
}

func TestLoadSidecar_Unreadable(t *testing.T) {
	if runtime.GOOS == "windows" || os.Getuid() == 0 {
		t.Skip("permission bits not enforced")
	}
	dir := t.TempDir()
	p := filepath.Join(dir, "params.json")
	if err := os.WriteFile(p, []byte(`{"temperature":0.3}`), 0o000); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadSidecar(dir); err == nil {
		t.Fatalf("expected error for unreadable sidecar")
	}
}

func TestResolveParams_Priority(t *testing.T) {
	manual := DefaultParams()
	manual.Temperature = 0.9
	temp := 0.3
	side := Overrides{Temperature: &temp}

	got, src := ResolveParams(manual, side, false)
	if got.Temperature != 0.3 || src != SourceSidecar {
		t.Fatalf("sidecar should win: %+v %s", got, src)
	}
	if got.TopK != manual.TopK || got.MaxTokens != manual.MaxTokens {
		t.Fatalf("missing sidecar keys should fall back to manual: %+v", got)
	}

	got, src = ResolveParams(manual, side, true)
	if got.Temperature != 0.9 || src != SourceManual {
		t.Fatalf("manual should win when prioritized: %+v %s", got, src)
	}

	got, src = ResolveParams(manual, Overrides{}, false)
	if got != manual || src != SourceManual {
		t.Fatalf("no sidecar should yield manual: %+v %s", got, src)
	}
}
