package ressync

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// Cache entries
// ============================================================================

// cacheEntry tracks the client's interest in one resource.
//
// An entry stays cached while at least one of these holds: a user listener
// is attached (direct > 0), a cached collection contains it (indirect > 0),
// the server is pushing updates for it (subscribed), or its initial fetch
// is in flight (promise != nil).
type cacheEntry struct {
	rid  string
	item Resource   // nil until the first snapshot arrives
	typ  *ModelType // models only

	direct     int
	indirect   int
	subscribed bool
	promise    *fetchPromise
	staleTimer *time.Timer
}

// fetchPromise is the shared completion of an in-flight initial subscribe.
type fetchPromise struct {
	done chan struct{}
	item Resource
	err  error
}

func newFetchPromise() *fetchPromise {
	return &fetchPromise{done: make(chan struct{})}
}

func (p *fetchPromise) complete(item Resource, err error) {
	p.item = item
	p.err = err
	close(p.done)
}

func (p *fetchPromise) wait(ctx context.Context) (Resource, error) {
	select {
	case <-p.done:
		return p.item, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ============================================================================
// Fetch and ingest
// ============================================================================

// getOrFetch returns the cached resource for rid, joining an in-flight
// fetch if one exists, and otherwise subscribes and waits for the first
// snapshot.
func (c *Client) getOrFetch(ctx context.Context, rid string) (Resource, error) {
	c.mu.Lock()
	if e := c.cache[rid]; e != nil {
		if e.item != nil {
			item := e.item
			c.mu.Unlock()
			return item, nil
		}
		if e.promise != nil {
			p := e.promise
			c.mu.Unlock()
			return p.wait(ctx)
		}
	}
	e := &cacheEntry{rid: rid, subscribed: true, promise: newFetchPromise()}
	c.cache[rid] = e
	p := e.promise
	c.mu.Unlock()

	c.asyncSend("subscribe."+rid, nil, c.subscribeHandler(e))
	return p.wait(ctx)
}

// subscribeHandler completes an initial fetch: it binds the snapshot on
// success and evicts the placeholder entry on failure.
func (c *Client) subscribeHandler(e *cacheEntry) handleFunc {
	return func(c *Client, res json.RawMessage, rerr error, q *emitQueue) {
		p := e.promise
		e.promise = nil
		if rerr == nil {
			var sr subscribeResult
			if err := json.Unmarshal(res, &sr); err != nil {
				rerr = &ProtocolError{Msg: "malformed subscribe result: " + err.Error()}
			} else if _, err := c.ingestSnapshot(e.rid, sr.Data, false, q); err != nil {
				rerr = err
			} else if e.item == nil {
				rerr = &ProtocolError{Msg: "subscribe result without data for " + e.rid}
			}
		}
		if rerr != nil {
			c.log.Warn("subscribe failed", zap.String("rid", e.rid), zap.Error(rerr))
			e.subscribed = false
			c.tryRelease(e, q)
			if p != nil {
				p.complete(nil, rerr)
			}
			return
		}
		if p != nil {
			p.complete(e.item, nil)
		}
	}
}

// ingestSnapshot routes a snapshot for rid into the cache: fresh data for
// an already-bound entry goes through synchronization, otherwise the value
// is created. An array payload is a collection snapshot whose elements are
// ingested recursively, each contributing an indirect reference to its
// child. Caller holds the client mutex.
func (c *Client) ingestSnapshot(rid string, payload json.RawMessage, addIndirect bool, q *emitQueue) (*cacheEntry, error) {
	e := c.cache[rid]
	if e != nil && e.item != nil {
		if !emptyPayload(payload) {
			if err := c.syncResource(e, payload, q); err != nil {
				return nil, err
			}
		}
		if addIndirect {
			e.indirect++
		}
		return e, nil
	}

	if emptyPayload(payload) {
		if e == nil {
			return nil, &ProtocolError{Msg: "no data for unknown resource " + rid}
		}
		if addIndirect {
			e.indirect++
		}
		return e, nil
	}

	if e == nil {
		e = &cacheEntry{rid: rid}
		c.cache[rid] = e
	}

	if isJSONArray(payload) {
		var refs []resourceRef
		if err := json.Unmarshal(payload, &refs); err != nil {
			return nil, &ProtocolError{Msg: "malformed collection snapshot for " + rid + ": " + err.Error()}
		}
		col := newCollection(c, rid)
		items := make([]*Model, 0, len(refs))
		for _, ref := range refs {
			ce, err := c.ingestSnapshot(ref.RID, ref.Data, true, q)
			if err != nil {
				return nil, err
			}
			m, ok := ce.item.(*Model)
			if !ok {
				return nil, &ProtocolError{Msg: "collection element " + ref.RID + " is not a model"}
			}
			items = append(items, m)
		}
		if err := col.init(items); err != nil {
			return nil, err
		}
		e.item = col
	} else {
		var props map[string]any
		if err := json.Unmarshal(payload, &props); err != nil {
			return nil, &ProtocolError{Msg: "malformed model snapshot for " + rid + ": " + err.Error()}
		}
		mt := c.getModelType(rid)
		e.typ = mt
		e.item = mt.New(c, rid, props)
	}

	if addIndirect {
		e.indirect++
	}
	return e, nil
}

func emptyPayload(p json.RawMessage) bool {
	return len(p) == 0 || string(p) == "null"
}

func isJSONArray(p json.RawMessage) bool {
	for _, b := range p {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}

// ============================================================================
// Release
// ============================================================================

// tryRelease is the central eviction decision. The entry stays if anything
// still references it; an entry kept only by direct listeners while not
// subscribed gets a stale-resubscribe timer. A released collection drops
// the indirect reference it contributed to each child.
func (c *Client) tryRelease(e *cacheEntry, q *emitQueue) {
	if e.indirect > 0 {
		return
	}
	if e.direct > 0 {
		if !e.subscribed && e.promise == nil && e.staleTimer == nil && c.conn != nil {
			c.armStaleTimer(e)
		}
		return
	}
	if e.subscribed || e.promise != nil {
		return
	}

	if e.staleTimer != nil {
		e.staleTimer.Stop()
		e.staleTimer = nil
	}
	delete(c.cache, e.rid)

	if col, ok := e.item.(*Collection); ok {
		for _, m := range col.Models() {
			ce := c.cache[m.rid]
			if ce == nil {
				continue
			}
			ce.indirect--
			c.tryRelease(ce, q)
		}
	}
}

// handleRelease runs when the last direct listener detaches. A subscribed
// entry is unsubscribed from the server first; before a collection lets go
// of its children, any child held alive solely by this collection while
// still observed is given its own subscription.
func (c *Client) handleRelease(e *cacheEntry, q *emitQueue) {
	if !e.subscribed {
		c.tryRelease(e, q)
		return
	}

	if col, ok := e.item.(*Collection); ok {
		for _, m := range col.Models() {
			ce := c.cache[m.rid]
			if ce != nil && ce.direct > 0 && ce.indirect == 1 && !ce.subscribed {
				c.resubscribeEntry(ce, q)
			}
		}
	}

	if c.conn == nil {
		e.subscribed = false
		c.tryRelease(e, q)
		return
	}
	rid := e.rid
	q.add(func() {
		c.asyncSend("unsubscribe."+rid, nil, func(c *Client, _ json.RawMessage, rerr error, q2 *emitQueue) {
			// Completed either way; the server no longer counts us.
			if rerr != nil {
				c.log.Debug("unsubscribe failed", zap.String("rid", rid), zap.Error(rerr))
			}
			e.subscribed = false
			c.tryRelease(e, q2)
		})
	})
}

// resubscribeEntry marks an entry subscribed and queues the subscribe call
// whose snapshot is reconciled against the cached value.
func (c *Client) resubscribeEntry(e *cacheEntry, q *emitQueue) {
	e.subscribed = true
	if e.staleTimer != nil {
		e.staleTimer.Stop()
		e.staleTimer = nil
	}
	rid := e.rid
	h := c.resyncHandler(e)
	q.add(func() {
		c.asyncSend("subscribe."+rid, nil, h)
	})
}

// resyncHandler reconciles the response of a non-initial subscribe (stale
// timer, reconnect, or child rescue) with the cached value.
func (c *Client) resyncHandler(e *cacheEntry) handleFunc {
	return func(c *Client, res json.RawMessage, rerr error, q *emitQueue) {
		if rerr == nil {
			var sr subscribeResult
			if err := json.Unmarshal(res, &sr); err != nil {
				rerr = &ProtocolError{Msg: "malformed subscribe result: " + err.Error()}
			} else if _, err := c.ingestSnapshot(e.rid, sr.Data, false, q); err != nil {
				rerr = err
			}
		}
		if rerr != nil {
			c.log.Warn("resubscribe failed", zap.String("rid", e.rid), zap.Error(rerr))
			e.subscribed = false
			c.tryRelease(e, q)
			c.queueError(q, rerr)
		}
	}
}

// ============================================================================
// Stale-resubscribe timer
// ============================================================================

func (c *Client) armStaleTimer(e *cacheEntry) {
	c.log.Debug("arming stale resubscribe", zap.String("rid", e.rid))
	e.staleTimer = time.AfterFunc(c.staleDelay, func() {
		c.handleStaleTimer(e)
	})
}

func (c *Client) handleStaleTimer(e *cacheEntry) {
	c.mu.Lock()
	e.staleTimer = nil
	if c.cache[e.rid] != e || e.subscribed || e.direct == 0 || c.conn == nil {
		c.mu.Unlock()
		return
	}
	var q emitQueue
	c.resubscribeEntry(e, &q)
	c.mu.Unlock()
	q.run()
}

// ============================================================================
// Direct references
// ============================================================================

// resourceOn attaches a user event handler to a resource, adding a direct
// reference.
func (c *Client) resourceOn(r Resource, events string, h EventHandler) error {
	c.mu.Lock()
	e := c.cache[r.RID()]
	if e == nil || e.item != r {
		c.mu.Unlock()
		return &CacheIntegrityError{Msg: "resource " + r.RID() + " is not cached"}
	}
	e.direct++
	if !e.subscribed && e.promise == nil && e.staleTimer == nil && c.conn != nil {
		c.armStaleTimer(e)
	}
	c.mu.Unlock()
	c.bus.on(r, events, h)
	return nil
}

// resourceOff detaches a handler and drops its direct reference; dropping
// the last one starts the release sequence.
func (c *Client) resourceOff(r Resource, events string, h EventHandler) error {
	c.bus.off(r, events, h)
	c.mu.Lock()
	e := c.cache[r.RID()]
	if e == nil || e.item != r || e.direct == 0 {
		c.mu.Unlock()
		return &CacheIntegrityError{Msg: "resource " + r.RID() + " has no direct reference"}
	}
	e.direct--
	var q emitQueue
	if e.direct == 0 {
		c.handleRelease(e, &q)
	}
	c.mu.Unlock()
	q.run()
	return nil
}

// ============================================================================
// Model types
// ============================================================================

// getModelType resolves the model type for rid by its two-segment type
// prefix, falling back to the default type.
func (c *Client) getModelType(rid string) *ModelType {
	if t, ok := c.types[typePrefix(rid)]; ok {
		return t
	}
	return &c.defaultType
}

// typePrefix returns the first two dot-segments of rid, or the whole rid
// when it is shorter.
func typePrefix(rid string) string {
	dot := 0
	for i := 0; i < len(rid); i++ {
		if rid[i] == '.' {
			dot++
			if dot == 2 {
				return rid[:i]
			}
		}
	}
	return rid
}
