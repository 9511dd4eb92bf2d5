package engine

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// sidecarNames are probed in order inside the model directory.
var sidecarNames = []string{
	"params.json",
	"generation_config.json",
	"params.yaml",
	"params.yml",
	"params.toml",
	"params.txt",
	"params",
}

// Overrides holds sampling values discovered next to a model. Nil fields were
// absent or malformed.
type Overrides struct {
	Temperature       *float64
	TopK              *int
	TopP              *float64
	RepetitionPenalty *float64
	Seed              *int
	// Source is the file the values came from.
	Source string
}

// Empty reports whether no recognized key was found.
func (o Overrides) Empty() bool {
	return o.Temperature == nil && o.TopK == nil && o.TopP == nil &&
		o.RepetitionPenalty == nil && o.Seed == nil
}

// LoadSidecar looks for a parameter file in dir. A missing file is not an
// error; an unreadable one is.
func LoadSidecar(dir string) (Overrides, error) {
	for _, name := range sidecarNames {
		p := filepath.Join(dir, name)
		b, err := os.ReadFile(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Overrides{}, fmt.Errorf("read sidecar %s: %w", p, err)
		}
		o := ParseSidecar(name, b)
		o.Source = p
		return o, nil
	}
	return Overrides{}, nil
}

// ParseSidecar decodes a parameter file. Structured formats are chosen by
// extension (or a leading '{'); anything that fails to decode falls back to
// key=value lines. Unknown keys and malformed values are ignored.
func ParseSidecar(name string, data []byte) Overrides {
	var kv map[string]any
	trimmed := bytes.TrimSpace(data)
	switch ext := strings.ToLower(filepath.Ext(name)); {
	case ext == ".json" || bytes.HasPrefix(trimmed, []byte("{")):
		if json.Unmarshal(trimmed, &kv) != nil {
			kv = nil
		}
	case ext == ".yaml" || ext == ".yml":
		if yaml.Unmarshal(trimmed, &kv) != nil {
			kv = nil
		}
	case ext == ".toml":
		if toml.Unmarshal(trimmed, &kv) != nil {
			kv = nil
		}
	}
	if kv == nil {
		kv = parseKeyValue(trimmed)
	}

	var o Overrides
	for k, v := range kv {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(k)), "-", "_")
		switch key {
		case "temperature", "temp":
			if f, ok := toFloat(v); ok && f >= 0 {
				o.Temperature = &f
			}
		case "top_p", "topp":
			if f, ok := toFloat(v); ok && f > 0 && f <= 1 {
				o.TopP = &f
			}
		case "top_k", "topk":
			if n, ok := toInt(v); ok && n >= 0 {
				o.TopK = &n
			}
		case "repeat_penalty", "repetition_penalty":
			if f, ok := toFloat(v); ok && f > 0 {
				o.RepetitionPenalty = &f
			}
		case "seed":
			if n, ok := toInt(v); ok {
				o.Seed = &n
			}
		}
	}
	return o
}

func parseKeyValue(data []byte) map[string]any {
	out := make(map[string]any)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.Trim(strings.TrimSpace(v), `"'`)
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		if x != float64(int(x)) {
			return 0, false
		}
		return int(x), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		return n, err == nil
	}
	return 0, false
}

// ParamSource names where resolved sampling values came from.
type ParamSource string

const (
	SourceManual  ParamSource = "manual"
	SourceSidecar ParamSource = "sidecar"
)

// ResolveParams applies the parameter priority policy. With prioritizeManual
// set, manual is returned unchanged. Otherwise every sampling field present in
// the sidecar replaces the manual value. MaxTokens always comes from manual.
func ResolveParams(manual Params, side Overrides, prioritizeManual bool) (Params, ParamSource) {
	if prioritizeManual || side.Empty() {
		return manual, SourceManual
	}
	p := manual
	if side.Temperature != nil {
		p.Temperature = *side.Temperature
	}
	if side.TopK != nil {
		p.TopK = *side.TopK
	}
	if side.TopP != nil {
		p.TopP = *side.TopP
	}
	if side.RepetitionPenalty != nil {
		p.RepetitionPenalty = *side.RepetitionPenalty
	}
	if side.Seed != nil {
		p.Seed = *side.Seed
	}
	return p, SourceSidecar
}
