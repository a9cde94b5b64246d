package storage

import "sync"

// Emitter is a small in-process event bus: one ordered subscriber list per
// EventKind. It backs every Adapter implementation's On/Close pair so the
// local event surface (§4.1) stays a single, reusable piece rather than
// being reimplemented per adapter.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventKind][]*subscription
	seq      uint64
}

type subscription struct {
	id      uint64
	handler Handler
}

// NewEmitter returns an empty Emitter.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventKind][]*subscription)}
}

// On registers handler for kind and returns a function that removes it.
func (e *Emitter) On(kind EventKind, handler Handler) (unsubscribe func()) {
	e.mu.Lock()
	e.seq++
	sub := &subscription{id: e.seq, handler: handler}
	e.handlers[kind] = append(e.handlers[kind], sub)
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		subs := e.handlers[kind]
		for i, s := range subs {
			if s.id == sub.id {
				e.handlers[kind] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Emit delivers ev to every subscriber of ev.Kind, in registration order.
// Fire-and-forget: a panicking handler is not recovered from here, callers
// that need isolation should wrap their own handler.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	subs := make([]*subscription, len(e.handlers[ev.Kind]))
	copy(subs, e.handlers[ev.Kind])
	e.mu.RUnlock()

	for _, s := range subs {
		s.handler(ev)
	}
}

// Close drops every subscriber across every event kind.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = make(map[EventKind][]*subscription)
}
