package manager

import "time"

// Lifecycle event names.
const (
	EventLoadStart        = "load_start"
	EventLoadDone         = "load_done"
	EventLoadFailed       = "load_failed"
	EventLoadSuperseded   = "load_superseded"
	EventUnload           = "unload"
	EventInferStart       = "infer_start"
	EventInferDone        = "infer_done"
	EventStop             = "stop"
	EventForcedCorrection = "forced_correction"
	EventCallRejected     = "call_rejected"
)

// Event represents a manager lifecycle event: name, model and optional
// key/value fields.
type Event struct {
	Name   string
	Model  string
	Time   time.Time
	Fields map[string]any
}

// EventPublisher receives events from the manager. Publish is called
// synchronously from manager goroutines, so implementations must not block
// and must not call back into the manager.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

func (m *Manager) publish(name, model string, fields map[string]any) {
	m.publisher.Publish(Event{Name: name, Model: model, Time: time.Now(), Fields: fields})
}
