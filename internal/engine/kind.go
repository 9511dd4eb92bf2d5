package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Kind tags an engine implementation selected from the shape of a model artifact.
type Kind string

const (
	KindUnknown  Kind = ""
	KindLlamaCpp Kind = "llama.cpp"
)

// DetectKind inspects path (a model file or a model directory) and returns
// the engine kind able to serve it.
func DetectKind(path string) Kind {
	fi, err := os.Stat(path)
	if err != nil {
		return KindUnknown
	}
	if !fi.IsDir() {
		if isGGUF(path) {
			return KindLlamaCpp
		}
		return KindUnknown
	}
	if f, err := ModelFile(path); err == nil && f != "" {
		return KindLlamaCpp
	}
	return KindUnknown
}

// ModelFile resolves path to the weights file an engine loads. Directories
// resolve to their first .gguf file in lexical order.
func ModelFile(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !fi.IsDir() {
		return path, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && isGGUF(e.Name()) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no .gguf file in %s", path)
	}
	sort.Strings(names)
	return filepath.Join(path, names[0]), nil
}

// ModelDir returns the directory that holds a model's sidecar files.
func ModelDir(path string) string {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return path
	}
	return filepath.Dir(path)
}

func isGGUF(name string) bool { return strings.EqualFold(filepath.Ext(name), ".gguf") }
