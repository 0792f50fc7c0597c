package ressync

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"
)

// ============================================================================
// Protocol codec
// ============================================================================

// handleFunc completes a pending request. It runs with the client mutex
// held, on the goroutine that observed the completion, and must not block;
// user-visible effects go through the emit queue.
type handleFunc func(c *Client, result json.RawMessage, rerr error, q *emitQueue)

// pendingRequest is an in-flight request awaiting its response.
type pendingRequest struct {
	method string
	params any
	handle handleFunc
}

type rpcResult struct {
	result json.RawMessage
	err    error
}

// decodeMessage parses an inbound frame and classifies it as response or
// event. A frame that is neither is a protocol error.
func decodeMessage(data []byte) (*inboundMsg, error) {
	var msg inboundMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &ProtocolError{Msg: "malformed message: " + err.Error()}
	}
	if msg.ID == nil && msg.Event == "" {
		return nil, &ProtocolError{Msg: "message is neither response nor event"}
	}
	return &msg, nil
}

// splitEvent splits a full event name on its last dot into resource id and
// event name.
func splitEvent(event string) (rid, name string, err error) {
	idx := strings.LastIndexByte(event, '.')
	if idx <= 0 || idx == len(event)-1 {
		return "", "", &ProtocolError{Msg: "malformed event name " + event}
	}
	return event[:idx], event[idx+1:], nil
}

// asyncSend registers a pending request and writes it to the connection.
// The handle is invoked exactly once: with the response, or with an error
// if the client is offline, the write fails, or the connection drops.
// Request ids are unique and monotonically increasing for the lifetime of
// the client.
func (c *Client) asyncSend(method string, params any, handle handleFunc) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		var q emitQueue
		handle(c, nil, &TransportError{Op: "send", Err: errNotConnected}, &q)
		c.mu.Unlock()
		q.run()
		return
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = &pendingRequest{method: method, params: params, handle: handle}
	data, err := json.Marshal(requestMsg{ID: id, Method: method, Params: params})
	c.mu.Unlock()

	if err != nil {
		c.failPending(id, &ProtocolError{Msg: "marshal request: " + err.Error()})
		return
	}
	if err := conn.Send(context.Background(), data); err != nil {
		c.failPending(id, &TransportError{Op: "send", Err: err})
	}
}

// failPending completes a single pending request with an error, if it is
// still pending.
func (c *Client) failPending(id uint64, err error) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, id)
	var q emitQueue
	p.handle(c, nil, err, &q)
	c.mu.Unlock()
	q.run()
}

// request issues an RPC and blocks until its response, connecting first if
// needed. Cancelling the context abandons the wait but not the request.
func (c *Client) request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	connected := c.conn != nil
	c.mu.Unlock()
	if !connected {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}

	ch := make(chan rpcResult, 1)
	c.asyncSend(method, params, func(_ *Client, res json.RawMessage, rerr error, _ *emitQueue) {
		ch <- rpcResult{result: res, err: rerr}
	})

	select {
	case r := <-ch:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// dispatchInbound routes one inbound frame: responses complete their
// pending request, events go to the resource event handlers. Server events
// are applied here, on the read loop, so events for a resource reach
// handlers in server-sent order.
func (c *Client) dispatchInbound(data []byte) {
	msg, err := decodeMessage(data)
	if err != nil {
		c.log.Warn("dropping inbound frame", zap.Error(err))
		c.emitError(err)
		return
	}

	c.mu.Lock()
	var q emitQueue
	switch {
	case msg.ID != nil:
		p, ok := c.pending[*msg.ID]
		if !ok {
			perr := &ProtocolError{Msg: "response without matching request"}
			c.queueError(&q, perr)
			break
		}
		delete(c.pending, *msg.ID)
		if msg.Error != nil {
			rerr := msg.Error
			rerr.Method = p.method
			rerr.Params = p.params
			c.queueError(&q, rerr)
			p.handle(c, nil, rerr, &q)
			break
		}
		p.handle(c, msg.Result, nil, &q)
	default:
		rid, name, serr := splitEvent(msg.Event)
		if serr != nil {
			c.queueError(&q, serr)
			break
		}
		if herr := c.handleEvent(rid, name, msg.Data, &q); herr != nil {
			c.queueError(&q, herr)
		}
	}
	c.mu.Unlock()
	q.run()
}
