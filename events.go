package ink

import "sync"

// EventKind identifies a handle-level event delivered through the database
// registry broadcast.
type EventKind string

const (
	EventError      EventKind = "error"
	EventParseError EventKind = "parseError"
	EventPoolReady  EventKind = "poolReady"
	EventMessage    EventKind = "message"
	EventClose      EventKind = "close"
)

// EventHandler observes handle-level events. err is nil for informational
// events such as poolReady.
type EventHandler func(err error, payload any)

// observerSet is the per-handle observer list. The zero value is ready to use.
type observerSet struct {
	mu        sync.RWMutex
	observers map[EventKind][]EventHandler
}

// On registers an observer for the given event kind.
func (o *observerSet) On(kind EventKind, h EventHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.observers == nil {
		o.observers = make(map[EventKind][]EventHandler)
	}
	o.observers[kind] = append(o.observers[kind], h)
}

// hasObserver reports whether at least one observer is registered for kind.
func (o *observerSet) hasObserver(kind EventKind) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.observers[kind]) > 0
}

// emit delivers the event to every observer of kind and reports whether
// anyone was listening.
func (o *observerSet) emit(kind EventKind, err error, payload any) bool {
	o.mu.RLock()
	handlers := o.observers[kind]
	o.mu.RUnlock()

	for _, h := range handlers {
		h(err, payload)
	}
	return len(handlers) > 0
}
