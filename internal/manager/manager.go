package manager

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"edgelm/internal/common/fsutil"
	"edgelm/internal/engine"
	"edgelm/internal/native"
	"edgelm/pkg/types"
)

// Manager owns at most one engine and serializes load, unload and inference
// across it.
type Manager struct {
	cfg       Config
	log       zerolog.Logger
	publisher EventPublisher
	factory   EngineFactory
	startTime time.Time

	// state is written under mu and read lock-free.
	state         atomic.Int32
	stopRequested atomic.Bool
	keepLoaded    atomic.Bool
	closed        atomic.Bool
	loads         atomic.Uint64
	calls         atomic.Uint64

	guard callGuard

	mu       sync.Mutex
	registry []types.Model
	eng      engine.Engine
	loaded   string
	target   string
	loadGen  uint64
	loadDone chan struct{}
	loadRes  loadResult
	lastErr  string

	// onTransition observes every state change; tests only.
	onTransition func(from, to State)
}

type loadResult struct {
	gen uint64
	err error
}

// New constructs a Manager in the unloaded state.
func New(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:       cfg,
		log:       cfg.Logger.With().Str("component", "manager").Logger(),
		publisher: cfg.Publisher,
		factory:   cfg.Factory,
		registry:  append([]types.Model(nil), cfg.Registry...),
		startTime: time.Now(),
	}
	if m.factory == nil {
		m.factory = NativeFactory(native.New(), cfg.Logger)
	}
	m.keepLoaded.Store(cfg.KeepLoaded)
	observeState(StateUnloaded)
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State { return State(m.state.Load()) }

// setStateLocked applies a transition. Invalid transitions are logged and
// refused. Callers hold mu.
func (m *Manager) setStateLocked(to State) bool {
	from := m.State()
	if from == to {
		return true
	}
	if !validTransition(from, to) {
		m.log.Error().Stringer("from", from).Stringer("to", to).Msg("refused invalid state transition")
		return false
	}
	m.state.Store(int32(to))
	observeState(to)
	if m.onTransition != nil {
		m.onTransition(from, to)
	}
	m.log.Debug().Stringer("from", from).Stringer("to", to).Msg("state")
	return true
}

// Snapshot returns a consistent view of the lifecycle fields.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{State: m.State(), Model: m.loaded, Loading: m.target}
}

// Ready reports whether a model is loaded and able to take a call.
func (m *Manager) Ready() bool {
	st := m.State()
	return !m.closed.Load() && (st == StateReady || st == StateBusy)
}

// KeepLoaded reports whether the model is retained between calls.
func (m *Manager) KeepLoaded() bool { return m.keepLoaded.Load() }

// SetKeepLoaded changes the retention policy for subsequent calls.
func (m *Manager) SetKeepLoaded(v bool) { m.keepLoaded.Store(v) }

// ListModels returns a copy of the registry.
func (m *Manager) ListModels() []types.Model {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Model, len(m.registry))
	copy(out, m.registry)
	return out
}

// SetRegistry replaces the registry, e.g. after a rescan.
func (m *Manager) SetRegistry(models []types.Model) {
	m.mu.Lock()
	m.registry = append([]types.Model(nil), models...)
	m.mu.Unlock()
}

// resolveLocked maps a model name to a path. Registry ids and names match
// case-insensitively; an existing filesystem path is accepted as-is.
func (m *Manager) resolveLocked(name string) (string, error) {
	for _, mdl := range m.registry {
		if strings.EqualFold(mdl.ID, name) || strings.EqualFold(mdl.Name, name) {
			if strings.TrimSpace(mdl.Path) == "" {
				break
			}
			return mdl.Path, nil
		}
	}
	if p, err := fsutil.ExpandHome(name); err == nil && fsutil.PathExists(p) {
		return p, nil
	}
	return "", ErrModelNotFound(name)
}

// Close stops any generation, unloads the model and refuses further calls.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	return m.Unload()
}
