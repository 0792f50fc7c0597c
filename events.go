package ressync

import (
	"reflect"
	"strings"
	"sync"
)

// ============================================================================
// Event bus
// ============================================================================

// eventBus dispatches events to handlers scoped to a target (a resource or
// the client itself). Dispatch is synchronous and in registration order;
// a panicking handler never propagates past the dispatch site.
type eventBus struct {
	mu   sync.Mutex
	subs map[any]map[string][]EventHandler
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[any]map[string][]EventHandler)}
}

// on attaches a handler for the space-separated event names on target.
func (b *eventBus) on(target any, events string, h EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	byEvent := b.subs[target]
	if byEvent == nil {
		byEvent = make(map[string][]EventHandler)
		b.subs[target] = byEvent
	}
	for _, name := range strings.Fields(events) {
		byEvent[name] = append(byEvent[name], h)
	}
}

// off detaches a previously attached handler from the given event names.
func (b *eventBus) off(target any, events string, h EventHandler) {
	ptr := reflect.ValueOf(h).Pointer()
	b.mu.Lock()
	defer b.mu.Unlock()
	byEvent := b.subs[target]
	if byEvent == nil {
		return
	}
	for _, name := range strings.Fields(events) {
		handlers := byEvent[name]
		for i, existing := range handlers {
			if reflect.ValueOf(existing).Pointer() == ptr {
				byEvent[name] = append(handlers[:i:i], handlers[i+1:]...)
				break
			}
		}
		if len(byEvent[name]) == 0 {
			delete(byEvent, name)
		}
	}
	if len(byEvent) == 0 {
		delete(b.subs, target)
	}
}

// emit dispatches an event to every handler attached to target for name.
// The display string is what handlers receive as their event argument; for
// built-in events it equals name, for custom events it is the full
// namespaced path.
func (b *eventBus) emit(target any, name, display string, data any) {
	b.mu.Lock()
	handlers := append([]EventHandler(nil), b.subs[target][name]...)
	b.mu.Unlock()
	for _, h := range handlers {
		dispatch(h, display, data)
	}
}

func dispatch(h EventHandler, event string, data any) {
	defer func() {
		// Handler panics stop at the dispatch site.
		_ = recover()
	}()
	h(event, data)
}

// ============================================================================
// Deferred emission
// ============================================================================

// emitQueue collects callbacks produced while the client mutex is held.
// They run, in order, after the mutex is released, so user handlers may
// call back into the client.
type emitQueue []func()

func (q *emitQueue) add(f func()) { *q = append(*q, f) }

func (q emitQueue) run() {
	for _, f := range q {
		f()
	}
}
