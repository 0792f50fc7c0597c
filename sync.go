package ressync

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// ============================================================================
// Snapshot reconciliation
// ============================================================================

// syncResource reconciles a cached resource with a fresh snapshot. The
// snapshot kind must match the cached kind. Caller holds the client mutex.
func (c *Client) syncResource(e *cacheEntry, payload json.RawMessage, q *emitQueue) error {
	switch item := e.item.(type) {
	case *Model:
		if isJSONArray(payload) {
			return &CacheIntegrityError{Msg: "collection snapshot for model " + e.rid}
		}
		return c.handleChangeEvent(e, payload, q)
	case *Collection:
		if !isJSONArray(payload) {
			return &CacheIntegrityError{Msg: "model snapshot for collection " + e.rid}
		}
		var refs []resourceRef
		if err := json.Unmarshal(payload, &refs); err != nil {
			return &ProtocolError{Msg: "malformed collection snapshot for " + e.rid + ": " + err.Error()}
		}
		return c.syncCollection(e, item, refs, q)
	}
	return &CacheIntegrityError{Msg: "snapshot for unbound entry " + e.rid}
}

// syncCollection diffs the cached order against the snapshot order and
// applies the difference as synthetic events, leaving listeners in the
// same state as if the server had sent them incrementally: unchanged
// elements are refreshed first, then removals (descending index), then
// insertions (ascending final index).
func (c *Client) syncCollection(e *cacheEntry, col *Collection, refs []resourceRef, q *emitQueue) error {
	a := col.rids()
	b := make([]string, len(refs))
	for i, ref := range refs {
		b[i] = ref.RID
	}
	keeps, removes, adds := patchDiff(a, b)

	for _, k := range keeps {
		if emptyPayload(refs[k.bi].Data) {
			continue
		}
		if _, err := c.ingestSnapshot(refs[k.bi].RID, refs[k.bi].Data, false, q); err != nil {
			return err
		}
	}
	for _, idx := range removes {
		if err := c.handleCollectionRemove(e, col, idx, q); err != nil {
			return err
		}
	}
	for _, bi := range adds {
		if err := c.handleCollectionAdd(e, col, refs[bi].RID, refs[bi].Data, bi, q); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// LCS diff
// ============================================================================

type diffKeep struct {
	ai, bi int
}

// patchDiff computes the difference between orders a and b. It returns the
// kept pairs in ascending order, the indices to remove in descending order
// (each valid at its removal time), and the final indices to insert at in
// ascending order. Applying removals then insertions in the returned order
// transforms a into b. On ties the element of a is removed rather than
// kept, so a remove and an add meeting at one index delete before
// inserting.
func patchDiff(a, b []string) (keeps []diffKeep, removes []int, adds []int) {
	// Trim the common prefix and suffix; the LCS table covers only the
	// differing middle.
	start := 0
	for start < len(a) && start < len(b) && a[start] == b[start] {
		keeps = append(keeps, diffKeep{ai: start, bi: start})
		start++
	}
	ea, eb := len(a), len(b)
	var tail []diffKeep
	for ea > start && eb > start && a[ea-1] == b[eb-1] {
		ea--
		eb--
		tail = append(tail, diffKeep{ai: ea, bi: eb})
	}

	m, n := ea-start, eb-start
	if m > 0 || n > 0 {
		t := make([][]int, m+1)
		for i := range t {
			t[i] = make([]int, n+1)
		}
		for i := 1; i <= m; i++ {
			for j := 1; j <= n; j++ {
				if a[start+i-1] == b[start+j-1] {
					t[i][j] = t[i-1][j-1] + 1
				} else if t[i-1][j] >= t[i][j-1] {
					t[i][j] = t[i-1][j]
				} else {
					t[i][j] = t[i][j-1]
				}
			}
		}

		var mid []diffKeep
		i, j := m, n
		for i > 0 || j > 0 {
			switch {
			case i > 0 && j > 0 && a[start+i-1] == b[start+j-1]:
				mid = append(mid, diffKeep{ai: start + i - 1, bi: start + j - 1})
				i--
				j--
			case j > 0 && (i == 0 || t[i][j-1] > t[i-1][j]):
				adds = append(adds, start+j-1)
				j--
			default:
				removes = append(removes, start+i-1)
				i--
			}
		}
		for k := len(mid) - 1; k >= 0; k-- {
			keeps = append(keeps, mid[k])
		}
		for l, r := 0, len(adds)-1; l < r; l, r = l+1, r-1 {
			adds[l], adds[r] = adds[r], adds[l]
		}
	}
	for k := len(tail) - 1; k >= 0; k-- {
		keeps = append(keeps, tail[k])
	}
	return keeps, removes, adds
}

// ============================================================================
// Event handling
// ============================================================================

// handleEvent applies one resource event. Caller holds the client mutex.
func (c *Client) handleEvent(rid, name string, data json.RawMessage, q *emitQueue) error {
	e := c.cache[rid]
	if e == nil || e.item == nil {
		c.log.Debug("event for unknown resource", zap.String("rid", rid), zap.String("event", name))
		return nil
	}
	switch name {
	case "change":
		if _, ok := e.item.(*Model); !ok {
			return &ProtocolError{Msg: "change event for non-model " + rid}
		}
		return c.handleChangeEvent(e, data, q)
	case "add":
		col, ok := e.item.(*Collection)
		if !ok {
			return &ProtocolError{Msg: "add event for non-collection " + rid}
		}
		var ev addEventData
		if err := json.Unmarshal(data, &ev); err != nil {
			return &ProtocolError{Msg: "malformed add event for " + rid + ": " + err.Error()}
		}
		return c.handleCollectionAdd(e, col, ev.RID, ev.Data, ev.Idx, q)
	case "remove":
		col, ok := e.item.(*Collection)
		if !ok {
			return &ProtocolError{Msg: "remove event for non-collection " + rid}
		}
		var ev removeEventData
		if err := json.Unmarshal(data, &ev); err != nil {
			return &ProtocolError{Msg: "malformed remove event for " + rid + ": " + err.Error()}
		}
		return c.handleCollectionRemove(e, col, ev.Idx, q)
	case "unsubscribe":
		c.handleUnsubscribeEvent(e, q)
		return nil
	default:
		// Custom events pass through verbatim under the full event path.
		item := e.item
		display := c.namespace + ".resource." + rid + "." + name
		q.add(func() {
			c.bus.emit(item, name, display, data)
		})
		return nil
	}
}

// handleChangeEvent applies a change delta to a model. A custom change
// handler, when registered for the model's type, replaces the default
// application.
func (c *Client) handleChangeEvent(e *cacheEntry, data json.RawMessage, q *emitQueue) error {
	delta, err := translateChangeDelta(data)
	if err != nil {
		return err
	}
	m, ok := e.item.(*Model)
	if !ok {
		return &CacheIntegrityError{Msg: "change delta for non-model " + e.rid}
	}
	if e.typ != nil && e.typ.Change != nil {
		handler := e.typ.Change
		q.add(func() {
			handler(c, m, delta)
		})
		return nil
	}
	old := m.update(delta)
	if len(old) > 0 {
		q.add(func() {
			c.bus.emit(m, "change", "change", &ChangeEvent{Item: m, OldValues: old})
		})
	}
	return nil
}

// translateChangeDelta decodes a change payload, mapping the wire delete
// sentinel to Deleted. Any other object or array value is unsupported.
func translateChangeDelta(data json.RawMessage) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ProtocolError{Msg: "malformed change delta: " + err.Error()}
	}
	delta := make(map[string]any, len(raw))
	for k, v := range raw {
		switch tv := v.(type) {
		case map[string]any:
			if action, ok := tv["action"].(string); ok && action == actionDelete {
				delta[k] = Deleted
				continue
			}
			return nil, &ProtocolError{Msg: fmt.Sprintf("unsupported change value for key %q", k)}
		case []any:
			return nil, &ProtocolError{Msg: fmt.Sprintf("unsupported change value for key %q", k)}
		default:
			delta[k] = v
		}
	}
	return delta, nil
}

// handleCollectionAdd ingests the added model and inserts it at idx.
func (c *Client) handleCollectionAdd(e *cacheEntry, col *Collection, rid string, data json.RawMessage, idx int, q *emitQueue) error {
	ce, err := c.ingestSnapshot(rid, data, true, q)
	if err != nil {
		return err
	}
	m, ok := ce.item.(*Model)
	if !ok {
		return &ProtocolError{Msg: "added element " + rid + " is not a model"}
	}
	if err := col.insert(idx, m); err != nil {
		return err
	}
	q.add(func() {
		c.bus.emit(col, "add", "add", &AddEvent{Item: m, Idx: idx})
	})
	return nil
}

// handleCollectionRemove removes the model at idx, drops the collection's
// indirect reference to it, and lets the cache decide its fate.
func (c *Client) handleCollectionRemove(e *cacheEntry, col *Collection, idx int, q *emitQueue) error {
	m := col.removeAt(idx)
	if m == nil {
		return &CacheIntegrityError{Msg: fmt.Sprintf("remove index %d out of range in %s", idx, e.rid)}
	}
	q.add(func() {
		c.bus.emit(col, "remove", "remove", &RemoveEvent{Item: m, Idx: idx})
	})
	ce := c.cache[m.rid]
	if ce == nil {
		return &CacheIntegrityError{Msg: "removed model " + m.rid + " is not cached"}
	}
	ce.indirect--
	c.tryRelease(ce, q)
	return nil
}

// handleUnsubscribeEvent reacts to the server dropping a subscription. The
// entry survives while observed, with a stale-resubscribe timer pending.
func (c *Client) handleUnsubscribeEvent(e *cacheEntry, q *emitQueue) {
	e.subscribed = false
	c.tryRelease(e, q)
	item := e.item
	q.add(func() {
		c.bus.emit(item, "unsubscribe", "unsubscribe", &UnsubscribeEvent{Item: item})
	})
}
