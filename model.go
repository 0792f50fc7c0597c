package ressync

import (
	"reflect"
	"sync"
)

// Resource is a live local value mirroring a server-side resource. It is
// implemented by *Model and *Collection.
type Resource interface {
	RID() string
}

// ============================================================================
// Model
// ============================================================================

// Model is a live key/value snapshot of a single resource. Values are the
// JSON primitives: nil, bool, float64 and string. The client keeps the model
// synchronized for as long as it is subscribed or observed; reads are safe
// from any goroutine.
type Model struct {
	c   *Client
	rid string

	mu    sync.RWMutex
	props map[string]any
}

// NewModel constructs a model bound to a client and resource id. It is
// exported for custom model type factories; application code receives
// models from the client and never constructs them.
func NewModel(c *Client, rid string, props map[string]any) *Model {
	if props == nil {
		props = make(map[string]any)
	}
	return &Model{c: c, rid: rid, props: props}
}

// RID returns the resource id.
func (m *Model) RID() string { return m.rid }

// Get returns the value for key and whether the key exists.
func (m *Model) Get(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.props[key]
	return v, ok
}

// Props returns a copy of the model's current key/value state.
func (m *Model) Props() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]any, len(m.props))
	for k, v := range m.props {
		out[k] = v
	}
	return out
}

// On attaches a handler for the space-separated event names; the client
// itself emits "change" and "unsubscribe". Attaching counts as a direct reference:
// the model is kept alive and resubscribed until the handler is detached.
func (m *Model) On(events string, h EventHandler) error {
	return m.c.resourceOn(m, events, h)
}

// Off detaches a handler attached with On and drops its direct reference.
func (m *Model) Off(events string, h EventHandler) error {
	return m.c.resourceOff(m, events, h)
}

// update applies a change delta and returns the old values of every key
// that actually changed. Keys mapped to Deleted in the delta are removed;
// keys the delta introduced report Deleted as their old value. Called only
// by the client during synchronization.
func (m *Model) update(delta map[string]any) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := make(map[string]any)
	for k, v := range delta {
		prev, exists := m.props[k]
		if v == any(Deleted) {
			if exists {
				old[k] = prev
				delete(m.props, k)
			}
			continue
		}
		if !exists {
			old[k] = Deleted
			m.props[k] = v
			continue
		}
		if !reflect.DeepEqual(prev, v) {
			old[k] = prev
			m.props[k] = v
		}
	}
	if len(old) == 0 {
		return nil
	}
	return old
}
