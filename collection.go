package ressync

import (
	"sync"
)

// ============================================================================
// Collection
// ============================================================================

// Collection is a live ordered sequence of models. The client keeps the
// order synchronized for as long as the collection is subscribed or
// observed; reads are safe from any goroutine.
type Collection struct {
	c   *Client
	rid string

	mu         sync.RWMutex
	list       []*Model
	byID       map[string]*Model
	idCallback func(*Model) string
}

func newCollection(c *Client, rid string) *Collection {
	return &Collection{c: c, rid: rid}
}

// RID returns the resource id.
func (col *Collection) RID() string { return col.rid }

// Len returns the number of models in the collection.
func (col *Collection) Len() int {
	col.mu.RLock()
	defer col.mu.RUnlock()
	return len(col.list)
}

// Get returns the model at index i, or nil if i is out of range.
func (col *Collection) Get(i int) *Model {
	col.mu.RLock()
	defer col.mu.RUnlock()
	if i < 0 || i >= len(col.list) {
		return nil
	}
	return col.list[i]
}

// IndexOf returns the index of item in the collection, or -1 if absent.
func (col *Collection) IndexOf(item *Model) int {
	col.mu.RLock()
	defer col.mu.RUnlock()
	for i, m := range col.list {
		if m == item {
			return i
		}
	}
	return -1
}

// Models returns a copy of the collection's current order.
func (col *Collection) Models() []*Model {
	col.mu.RLock()
	defer col.mu.RUnlock()
	return append([]*Model(nil), col.list...)
}

// GetID returns the model with the given secondary id, or nil. It requires
// an id callback set with SetIDCallback.
func (col *Collection) GetID(id string) *Model {
	col.mu.RLock()
	defer col.mu.RUnlock()
	return col.byID[id]
}

// SetIDCallback installs a secondary id lookup over the collection. The
// callback maps each model to an id; two models mapping to the same id is
// an error, both here and on later insertions.
func (col *Collection) SetIDCallback(cb func(*Model) string) error {
	col.mu.Lock()
	defer col.mu.Unlock()
	col.idCallback = cb
	if cb == nil {
		col.byID = nil
		return nil
	}
	byID := make(map[string]*Model, len(col.list))
	for _, m := range col.list {
		id := cb(m)
		if _, dup := byID[id]; dup {
			col.idCallback = nil
			return &ProtocolError{Msg: "duplicate id " + id + " in collection " + col.rid}
		}
		byID[id] = m
	}
	col.byID = byID
	return nil
}

// On attaches a handler for the space-separated event names; the client
// itself emits "add", "remove" and "unsubscribe". Attaching counts as a
// direct reference.
func (col *Collection) On(events string, h EventHandler) error {
	return col.c.resourceOn(col, events, h)
}

// Off detaches a handler attached with On and drops its direct reference.
func (col *Collection) Off(events string, h EventHandler) error {
	return col.c.resourceOff(col, events, h)
}

// init binds the initial order. Called only by the client.
func (col *Collection) init(items []*Model) error {
	col.mu.Lock()
	defer col.mu.Unlock()
	col.list = items
	if col.idCallback == nil {
		return nil
	}
	byID := make(map[string]*Model, len(items))
	for _, m := range items {
		id := col.idCallback(m)
		if _, dup := byID[id]; dup {
			return &ProtocolError{Msg: "duplicate id " + id + " in collection " + col.rid}
		}
		byID[id] = m
	}
	col.byID = byID
	return nil
}

// insert places item at idx. Called only by the client.
func (col *Collection) insert(idx int, item *Model) error {
	col.mu.Lock()
	defer col.mu.Unlock()
	if idx < 0 || idx > len(col.list) {
		return &CacheIntegrityError{Msg: "add index out of range in collection " + col.rid}
	}
	if col.idCallback != nil {
		id := col.idCallback(item)
		if _, dup := col.byID[id]; dup {
			return &ProtocolError{Msg: "duplicate id " + id + " in collection " + col.rid}
		}
		col.byID[id] = item
	}
	col.list = append(col.list, nil)
	copy(col.list[idx+1:], col.list[idx:])
	col.list[idx] = item
	return nil
}

// removeAt removes and returns the item at idx, or nil if out of range.
// Called only by the client.
func (col *Collection) removeAt(idx int) *Model {
	col.mu.Lock()
	defer col.mu.Unlock()
	if idx < 0 || idx >= len(col.list) {
		return nil
	}
	item := col.list[idx]
	col.list = append(col.list[:idx], col.list[idx+1:]...)
	if col.idCallback != nil {
		delete(col.byID, col.idCallback(item))
	}
	return item
}

// rids returns the current child resource ids in order.
func (col *Collection) rids() []string {
	col.mu.RLock()
	defer col.mu.RUnlock()
	out := make([]string, len(col.list))
	for i, m := range col.list {
		out[i] = m.rid
	}
	return out
}
