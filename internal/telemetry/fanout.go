package telemetry

import "sessiond/internal/manager"

// Fanout delivers each event to every publisher in order. Nil entries are
// skipped.
type Fanout []manager.EventPublisher

func (f Fanout) Publish(e manager.Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(e)
		}
	}
}
