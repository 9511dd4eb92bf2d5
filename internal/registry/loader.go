package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"edgelm/internal/common/fsutil"
	"edgelm/internal/engine"
	"edgelm/pkg/types"
)

// Scanner discovers models under a directory.
type Scanner interface {
	Scan(dir string) ([]types.Model, error)
}

// GGUFScanner finds *.gguf files and model directories that contain one.
type GGUFScanner struct{}

func NewGGUFScanner() *GGUFScanner { return &GGUFScanner{} }

// LoadDir scans dir with the default scanner.
func LoadDir(dir string) ([]types.Model, error) {
	return NewGGUFScanner().Scan(dir)
}

var quantRe = regexp.MustCompile(`(?i)(?:^|[-_.])((?:IQ|Q)\d(?:_[A-Z0-9]+)*|F16|F32|BF16)(?:$|[-_.])`)

// Scan lists top-level *.gguf files (ID is the filename) and subdirectories
// holding at least one *.gguf file (ID is the directory name). Results are
// sorted by ID.
func (s *GGUFScanner) Scan(dir string) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		p := filepath.Join(abs, name)
		if e.IsDir() {
			file, err := engine.ModelFile(p)
			if err != nil {
				continue
			}
			m := describe(name, p, filepath.Base(file))
			m.SizeBytes, _ = fsutil.DirSize(p)
			models = append(models, m)
			continue
		}
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		m := describe(name, p, name)
		if info, err := e.Info(); err == nil {
			m.SizeBytes = info.Size()
		}
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

func describe(id, path, weights string) types.Model {
	stem := strings.TrimSuffix(weights, filepath.Ext(weights))
	m := types.Model{
		ID:     id,
		Name:   id,
		Path:   path,
		Quant:  ParseQuant(stem),
		Family: ParseFamily(stem),
		Engine: string(engine.DetectKind(path)),
	}
	if side, err := engine.LoadSidecar(engine.ModelDir(path)); err == nil && !side.Empty() {
		m.HasSidecar = true
	}
	return m
}

// ParseQuant extracts a quantization tag such as Q4_K_M or F16 from a file
// stem. It returns "" when none is present.
func ParseQuant(stem string) string {
	if m := quantRe.FindStringSubmatch(stem); m != nil {
		return strings.ToUpper(m[1])
	}
	return ""
}

// ParseFamily guesses the model family from the leading name segment, e.g.
// "Qwen3-0.6B-Q4_K_M" yields "qwen3".
func ParseFamily(stem string) string {
	seg := strings.FieldsFunc(stem, func(r rune) bool { return r == '-' || r == '_' || r == ' ' })
	if len(seg) == 0 {
		return ""
	}
	return strings.ToLower(seg[0])
}
