package manager

// Event names published by the manager.
const (
	EventSessionAdmitted      = "session_admitted"
	EventAdmissionRejected    = "admission_rejected"
	EventSessionLoadFailed    = "session_load_failed"
	EventSessionEvicted       = "session_evicted"
	EventSessionClosed        = "session_closed"
	EventGenerationStarted    = "generation_started"
	EventGenerationFirstToken = "generation_first_token"
	EventGenerationChunk      = "generation_chunk"
	EventGenerationCompleted  = "generation_completed"
	EventGenerationError      = "generation_error"
)

// Event represents a session lifecycle or generation event.
// Minimal and stable: name + ids and optional fields via key/values.
type Event struct {
	Name      string
	SessionID string
	ModelID   string
	Fields    map[string]any
}

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
