// Package events carries lifecycle notifications from the registry and the
// model catalog to the state broadcaster.
package events

// Event names emitted by the core.
const (
	JobQueued      = "job_queued"
	JobStarted     = "job_started"
	JobCompleted   = "job_completed"
	JobFailed      = "job_failed"
	ModelReadiness = "model_readiness"
	HealthChanged  = "health_changed"
)

// Event is a minimal lifecycle notification: name + subject id and
// optional fields via key/values.
type Event struct {
	Name   string
	ID     string
	Fields map[string]any
}

// Publisher receives events from the core. Implementations must be
// lightweight and non-blocking; Publish must not panic.
type Publisher interface {
	Publish(Event)
}

// NoopPublisher drops events. It is the default wiring.
type NoopPublisher struct{}

func (NoopPublisher) Publish(Event) {}
