// Package events provides the in-process publish/subscribe channel that
// wires the task store's components together.
package events

import (
	"log/slog"
	"reflect"
	"sync"
)

// Event names emitted by the store layer.
const (
	TaskCreated       = "task:created"
	TaskUpdated       = "task:updated"
	TaskDeleted       = "task:deleted"
	RepositoryChanged = "repository:changed"
	StoreInitialized  = "store:initialized"
)

// Handler receives the payload passed to Emit.
type Handler func(data any)

type registration struct {
	handler Handler
	once    bool
}

// Bus dispatches events to handlers synchronously, in registration order.
// A panicking handler is isolated: the remaining handlers for the same
// emission still run and nothing propagates to the caller of Emit.
type Bus struct {
	mu       sync.Mutex
	handlers map[string][]*registration
	logger   *slog.Logger
}

// NewBus creates an empty bus. A nil logger falls back to slog.Default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[string][]*registration),
		logger:   logger.With("component", "event_bus"),
	}
}

// On registers a handler for the named event.
func (b *Bus) On(event string, handler Handler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], &registration{handler: handler})
}

// Once registers a handler that is removed after exactly one invocation,
// even if that invocation panics.
func (b *Bus) Once(event string, handler Handler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], &registration{handler: handler, once: true})
}

// Off removes the first registration whose handler matches the supplied
// function. Other handlers for the same event are unaffected.
func (b *Bus) Off(event string, handler Handler) {
	if handler == nil {
		return
	}
	target := reflect.ValueOf(handler).Pointer()
	b.mu.Lock()
	defer b.mu.Unlock()
	regs := b.handlers[event]
	for i, reg := range regs {
		if reflect.ValueOf(reg.handler).Pointer() == target {
			b.handlers[event] = append(regs[:i:i], regs[i+1:]...)
			if len(b.handlers[event]) == 0 {
				delete(b.handlers, event)
			}
			return
		}
	}
}

// Emit invokes all handlers registered for the event, synchronously and in
// registration order. Ordering across different event names is unspecified.
func (b *Bus) Emit(event string, data any) {
	b.mu.Lock()
	regs := b.handlers[event]
	snapshot := make([]*registration, len(regs))
	copy(snapshot, regs)
	remaining := regs[:0:0]
	for _, reg := range regs {
		if !reg.once {
			remaining = append(remaining, reg)
		}
	}
	if len(remaining) == 0 {
		delete(b.handlers, event)
	} else {
		b.handlers[event] = remaining
	}
	b.mu.Unlock()

	for _, reg := range snapshot {
		b.invoke(event, reg.handler, data)
	}
}

func (b *Bus) invoke(event string, handler Handler, data any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event", event, "panic", r)
		}
	}()
	handler(data)
}

// ListenerCount reports the number of handlers registered for the event.
func (b *Bus) ListenerCount(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[event])
}

// EventNames lists the event names with at least one registered handler.
func (b *Bus) EventNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.handlers))
	for name := range b.handlers {
		names = append(names, name)
	}
	return names
}

// Clear drops every registration.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[string][]*registration)
}
