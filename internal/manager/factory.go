package manager

import (
	"fmt"

	"github.com/rs/zerolog"

	"edgelm/internal/engine"
	"edgelm/internal/native"
)

// EngineFactory builds an uninitialized engine for a detected artifact kind.
type EngineFactory func(kind engine.Kind) (engine.Engine, error)

// NativeFactory returns a factory that backs llama.cpp artifacts with lib.
func NativeFactory(lib native.Library, log zerolog.Logger) EngineFactory {
	return func(kind engine.Kind) (engine.Engine, error) {
		switch kind {
		case engine.KindLlamaCpp:
			if lib == nil {
				return nil, ErrDependencyUnavailable("native inference library not configured")
			}
			return engine.NewLlamaCpp(lib, log), nil
		case engine.KindUnknown:
			return nil, ErrDependencyUnavailable("no engine supports this model format")
		default:
			return nil, ErrDependencyUnavailable(fmt.Sprintf("no engine for kind %q", kind))
		}
	}
}
