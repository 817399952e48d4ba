// Package reactor provides a single-threaded, readiness-based event loop
// (see Reactor) and a small Node.js-style publish/subscribe layer
// (EventEmitter) that the rest of this module is built on.
package reactor

import "sync/atomic"

// Listener is called when a subscribed event fires. args carries whatever
// the emitter passed to Emit, positionally, with no compile-time typing —
// callers type-assert the values they expect.
type Listener func(args ...interface{})

// ListenerID identifies a registered listener so it can be removed later.
// Go function values aren't comparable, so unlike the listener-by-value
// removal in the original event emitter this library is modeled on, removal
// here goes through an opaque handle returned by On/Once.
type ListenerID uint64

var nextListenerID uint64

type listenerEntry struct {
	id      ListenerID
	fn      Listener
	removed bool
}

// Sink is a fallback dispatch table consulted by Emit when an event has no
// registered listeners. It stands in for the "call the method on the sink
// object whose name matches the event" pattern from the library this one is
// modeled on; Go has no cheap dynamic method-by-name dispatch, so the sink is
// just a map from event name to handler.
type Sink map[string]Listener

// EventEmitter is a named multi-listener publish/subscribe bus. The zero
// value is not usable; construct with NewEventEmitter.
type EventEmitter struct {
	listeners map[string][]*listenerEntry
	sink      Sink
}

// NewEventEmitter returns a ready-to-use EventEmitter.
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{listeners: make(map[string][]*listenerEntry)}
}

// On appends listener to event's listener list and emits a synthetic
// "newListener" event carrying (event, id).
func (e *EventEmitter) On(event string, fn Listener) ListenerID {
	id := ListenerID(atomic.AddUint64(&nextListenerID, 1))
	entry := &listenerEntry{id: id, fn: fn}
	e.listeners[event] = append(e.listeners[event], entry)
	e.Emit("newListener", event, id)
	return id
}

// Once registers a listener that fires at most once. The listener is
// removed from the registry before its body runs, so a re-entrant Emit of
// the same event from within the listener body can't cause it to fire
// twice.
func (e *EventEmitter) Once(event string, fn Listener) ListenerID {
	var id ListenerID
	wrapper := func(args ...interface{}) {
		e.RemoveListener(event, id)
		fn(args...)
	}
	id = e.On(event, wrapper)
	return id
}

// RemoveListener removes a specific listener from event. It is a no-op if
// the listener isn't registered (already fired via Once, or never added).
// Safe to call from within a dispatch of event, including from the removed
// listener's own body.
func (e *EventEmitter) RemoveListener(event string, id ListenerID) {
	entries := e.listeners[event]
	for i, entry := range entries {
		if entry.id == id {
			entry.removed = true
			e.listeners[event] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// RemoveListeners removes all listeners from the given events; with no
// arguments, it clears every event. Listeners currently being dispatched
// (from an in-progress Emit higher on the call stack) still run to
// completion, but any of the removed listeners not yet reached are skipped.
func (e *EventEmitter) RemoveListeners(events ...string) {
	if len(events) == 0 {
		for ev, entries := range e.listeners {
			for _, entry := range entries {
				entry.removed = true
			}
			delete(e.listeners, ev)
		}
		return
	}
	for _, ev := range events {
		for _, entry := range e.listeners[ev] {
			entry.removed = true
		}
		delete(e.listeners, ev)
	}
}

// Listeners returns the listener functions currently registered for event,
// in registration order.
func (e *EventEmitter) Listeners(event string) []Listener {
	entries := e.listeners[event]
	out := make([]Listener, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.fn)
	}
	return out
}

// EventNames returns the events that currently have at least one listener.
func (e *EventEmitter) EventNames() []string {
	out := make([]string, 0, len(e.listeners))
	for ev, entries := range e.listeners {
		if len(entries) > 0 {
			out = append(out, ev)
		}
	}
	return out
}

// Emit invokes every listener registered for event, in registration order,
// passing args along. If no listener is registered and a sink has been set
// via SetSink, the sink's handler for event (if any) is invoked instead.
//
// Emit snapshots the listener slice at entry so that a listener which calls
// RemoveListener or RemoveListeners while being dispatched doesn't perturb
// iteration: entries already reached still run (a listener can't un-call
// itself), entries marked removed before they're reached are skipped.
func (e *EventEmitter) Emit(event string, args ...interface{}) {
	entries := e.listeners[event]
	if len(entries) == 0 {
		if fn, ok := e.sink[event]; ok {
			fn(args...)
		}
		return
	}
	snapshot := make([]*listenerEntry, len(entries))
	copy(snapshot, entries)
	for _, entry := range snapshot {
		if !entry.removed {
			entry.fn(args...)
		}
	}
}

// SetSink installs the fallback dispatch table used by Emit when an event
// has no listeners.
func (e *EventEmitter) SetSink(sink Sink) {
	e.sink = sink
}
