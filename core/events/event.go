package events

// Payload is the wire-friendly form of an event: a type tag plus flat string
// attributes, suitable for indexers and log sinks.
type Payload struct {
	Type       string
	Attributes map[string]string
}

// Event represents a structured state change emitted by the engine.
type Event interface {
	EventType() string
	Payload() *Payload
}

// Emitter broadcasts events to downstream subscribers.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events.
// It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}
