package event

// Sink receives envelopes from the engine after each committed operation.
// Publish must not fail the enclosing operation — delivery guarantees are
// the sink's own concern (the persistence leg blocks, the outbound leg
// drops; see cmd wiring).
type Sink interface {
	Publish(Envelope)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Envelope)

func (f SinkFunc) Publish(env Envelope) { f(env) }

// Fanout delivers each envelope to every sink in order.
type Fanout []Sink

func (f Fanout) Publish(env Envelope) {
	for _, s := range f {
		s.Publish(env)
	}
}
