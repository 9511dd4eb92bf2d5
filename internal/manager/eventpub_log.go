package manager

import "github.com/rs/zerolog"

// LogPublisher writes lifecycle events to a zerolog logger. Rejections and
// forced corrections log at warn, everything else at debug.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(e Event) {
	ev := p.log.Debug()
	switch e.Name {
	case EventCallRejected, EventForcedCorrection, EventLoadFailed:
		ev = p.log.Warn()
	}
	ev.Str("event", e.Name).Str("model", e.Model).Time("at", e.Time).Fields(e.Fields).Msg("manager event")
}
