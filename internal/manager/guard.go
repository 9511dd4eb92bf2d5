package manager

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// callToken identifies the call holding the guard.
type callToken struct {
	id    string
	model string
	since time.Time
}

// takeover describes why acquire displaced a previous holder.
type takeover int

const (
	takeoverNone takeover = iota
	takeoverStale
	takeoverSwitch
)

// callGuard admits one top-level call at a time. A second call for the same
// model is rejected; a call for a different model takes the guard over and is
// expected to stop the previous call's work. A holder older than the stale
// threshold is displaced regardless of model.
type callGuard struct {
	mu  sync.Mutex
	cur *callToken
}

// acquire takes the guard for model. An empty id is replaced by a fresh uuid.
func (g *callGuard) acquire(model, id string, now time.Time, stale time.Duration) (*callToken, *callToken, takeover, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev := g.cur
	kind := takeoverNone
	if prev != nil {
		switch {
		case now.Sub(prev.since) > stale:
			kind = takeoverStale
		case prev.model == model:
			return nil, prev, takeoverNone, conflictError{msg: "a call for " + model + " is already in progress"}
		default:
			kind = takeoverSwitch
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	tok := &callToken{id: id, model: model, since: now}
	g.cur = tok
	return tok, prev, kind, nil
}

// release clears the guard if tok still holds it.
func (g *callGuard) release(tok *callToken) {
	g.mu.Lock()
	if g.cur == tok {
		g.cur = nil
	}
	g.mu.Unlock()
}

func (g *callGuard) owns(tok *callToken) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cur == tok
}

func (g *callGuard) current() (callToken, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cur == nil {
		return callToken{}, false
	}
	return *g.cur, true
}
