package events

import (
	"sync"

	"launchpad/core/types"
)

// Event represents a structured state change emitted by the settlement engines.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. mirrors, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Typed wraps a canonical *types.Event so it satisfies Event.
type Typed struct {
	Evt *types.Event
}

// Wrap returns the Event adapter for the supplied payload.
func Wrap(evt *types.Event) Typed { return Typed{Evt: evt} }

// EventType implements Event.
func (t Typed) EventType() string {
	if t.Evt == nil {
		return ""
	}
	return t.Evt.Type
}

// Event exposes the underlying payload.
func (t Typed) Event() *types.Event { return t.Evt }

// Payload extracts the canonical payload from an emitted event when present.
func Payload(evt Event) (*types.Event, bool) {
	carrier, ok := evt.(interface{ Event() *types.Event })
	if !ok || carrier.Event() == nil {
		return nil, false
	}
	return carrier.Event(), true
}

// Buffer collects events in memory. Engines running inside a state
// transaction emit into a Buffer which is flushed once the transaction commits.
type Buffer struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Emitter.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.mu.Lock()
	b.events = append(b.events, evt)
	b.mu.Unlock()
}

// Events returns a copy of the buffered events in emission order.
func (b *Buffer) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// FlushTo forwards the buffered events to dst and clears the buffer.
func (b *Buffer) FlushTo(dst Emitter) {
	b.mu.Lock()
	pending := b.events
	b.events = nil
	b.mu.Unlock()
	if dst == nil {
		return
	}
	for _, evt := range pending {
		dst.Emit(evt)
	}
}

// Reset discards buffered events.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
}

// Multi fans a single event out to every configured emitter.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(evt Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
