package telemetry

import (
	"github.com/rs/zerolog"

	"sessiond/internal/manager"
)

// LogPublisher writes events as zerolog lines. The manager already logs
// lifecycle milestones at info, so events go to debug (chunks to trace) and
// only failures to warn.
type LogPublisher struct {
	Log zerolog.Logger
}

func (p LogPublisher) Publish(e manager.Event) {
	var ev *zerolog.Event
	switch e.Name {
	case manager.EventGenerationChunk:
		ev = p.Log.Trace()
	case manager.EventAdmissionRejected, manager.EventSessionLoadFailed, manager.EventGenerationError:
		ev = p.Log.Warn()
	default:
		ev = p.Log.Debug()
	}
	ev.Str("session", e.SessionID).Str("model", e.ModelID).Fields(e.Fields).Msg("event=" + e.Name)
}
