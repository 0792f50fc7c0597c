package ressync

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

var errDisconnected = errors.New("disconnected by user")

// ============================================================================
// Connection state
// ============================================================================

// ConnState is the connection lifecycle state.
type ConnState string

const (
	StateIdle         ConnState = "idle"
	StateConnecting   ConnState = "connecting"
	StateOpen         ConnState = "open"
	StateReconnecting ConnState = "reconnecting"
)

// connPromise is the shared completion of an in-flight connect attempt.
type connPromise struct {
	done      chan struct{}
	err       error
	completed bool
}

// completePromise resolves p once. Caller holds the client mutex.
func (c *Client) completePromise(p *connPromise, err error) {
	if p == nil || p.completed {
		return
	}
	p.completed = true
	p.err = err
	close(p.done)
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ============================================================================
// Connect / Disconnect
// ============================================================================

// Connect establishes the connection, joining an attempt already in
// flight. Once connected the client reconnects on its own until
// Disconnect is called.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.tryConnect = true
	if c.state == StateOpen {
		c.mu.Unlock()
		return nil
	}
	if c.connPromise == nil {
		// A pending reconnect timer is preempted by an explicit connect.
		if c.reconnectTimer != nil {
			c.reconnectTimer.Stop()
			c.reconnectTimer = nil
		}
		if c.state == StateIdle {
			c.state = StateConnecting
		}
		p := &connPromise{done: make(chan struct{})}
		c.connPromise = p
		go c.dial(ctx, p)
	}
	p := c.connPromise
	c.mu.Unlock()

	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect closes the connection and stops reconnecting.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.tryConnect = false
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	if conn == nil {
		if p := c.connPromise; p != nil {
			c.connPromise = nil
			c.completePromise(p, &TransportError{Op: "connect", Err: errDisconnected})
		}
		c.state = StateIdle
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	// The read loop observes the close and finishes the teardown.
	return conn.Close()
}

// SetOnConnect installs a hook run on every connect, before the connection
// is considered open. A failing hook closes the transport; the typical use
// is authentication.
func (c *Client) SetOnConnect(hook func(context.Context, *Client) error) {
	c.mu.Lock()
	c.onConnect = hook
	c.mu.Unlock()
}

// ============================================================================
// Dial
// ============================================================================

func (c *Client) dial(ctx context.Context, p *connPromise) {
	wsURL, err := resolveURL(c.url)
	if err != nil {
		// A bad URL will not get better; stop trying.
		c.mu.Lock()
		c.tryConnect = false
		c.state = StateIdle
		if c.connPromise == p {
			c.connPromise = nil
		}
		c.completePromise(p, err)
		c.mu.Unlock()
		return
	}

	c.log.Debug("dialing", zap.String("url", wsURL))
	conn, derr := c.transport.Dial(ctx, wsURL)
	if derr != nil {
		c.dialFailed(p, &TransportError{Op: "dial", Err: derr})
		return
	}

	c.mu.Lock()
	if !c.tryConnect || c.connPromise != p {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()
	go c.readLoop(conn)

	c.mu.Lock()
	hook := c.onConnect
	c.mu.Unlock()
	if hook != nil {
		if herr := hook(ctx, c); herr != nil {
			c.log.Warn("connect hook failed", zap.Error(herr))
			c.mu.Lock()
			if c.connPromise == p {
				c.connPromise = nil
			}
			c.completePromise(p, herr)
			c.mu.Unlock()
			conn.Close()
			return
		}
	}

	c.mu.Lock()
	if c.conn != conn {
		// Closed while the hook ran; handleClose has taken over.
		c.mu.Unlock()
		return
	}
	c.state = StateOpen
	var q emitQueue
	c.resubscribeStale(&q)
	if c.connPromise == p {
		c.connPromise = nil
	}
	c.completePromise(p, nil)
	c.mu.Unlock()
	q.run()
	c.bus.emit(c, "connect", "connect", nil)
	c.log.Info("connected", zap.String("url", wsURL))
}

func (c *Client) dialFailed(p *connPromise, err error) {
	c.log.Warn("dial failed", zap.Error(err))
	c.mu.Lock()
	if c.connPromise == p {
		c.connPromise = nil
	}
	c.completePromise(p, err)
	if c.tryConnect {
		c.state = StateReconnecting
		c.reconnectTimer = time.AfterFunc(c.reconnectDelay, c.handleReconnectTimer)
	} else {
		c.state = StateIdle
	}
	c.mu.Unlock()
}

func (c *Client) handleReconnectTimer() {
	c.mu.Lock()
	c.reconnectTimer = nil
	if !c.tryConnect || c.conn != nil || c.connPromise != nil {
		c.mu.Unlock()
		return
	}
	p := &connPromise{done: make(chan struct{})}
	c.connPromise = p
	c.mu.Unlock()
	c.dial(context.Background(), p)
}

// ============================================================================
// Read loop and close
// ============================================================================

func (c *Client) readLoop(conn Conn) {
	for {
		data, err := conn.Receive(context.Background())
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		c.dispatchInbound(data)
	}
}

// handleClose tears down a lost connection: every pending request fails
// with a TransportError, every cache entry loses its subscription, and a
// reconnect is scheduled unless the user disconnected.
func (c *Client) handleClose(conn Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	wasOpen := c.state == StateOpen

	var q emitQueue
	terr := &TransportError{Op: "closed", Err: cause}
	for id, p := range c.pending {
		delete(c.pending, id)
		p.handle(c, nil, terr, &q)
	}

	entries := make([]*cacheEntry, 0, len(c.cache))
	for _, e := range c.cache {
		entries = append(entries, e)
	}
	for _, e := range entries {
		if c.cache[e.rid] != e {
			continue
		}
		e.subscribed = false
		if e.staleTimer != nil {
			e.staleTimer.Stop()
			e.staleTimer = nil
		}
		c.tryRelease(e, &q)
	}

	if p := c.connPromise; p != nil {
		c.connPromise = nil
		c.completePromise(p, terr)
	}

	if wasOpen {
		q.add(func() {
			c.bus.emit(c, "close", "close", cause)
		})
	}

	if c.tryConnect {
		c.state = StateReconnecting
		c.reconnectTimer = time.AfterFunc(c.reconnectDelay, c.handleReconnectTimer)
		c.log.Info("connection lost, reconnect scheduled",
			zap.Duration("delay", c.reconnectDelay), zap.Error(cause))
	} else {
		c.state = StateIdle
		c.log.Info("connection closed", zap.Error(cause))
	}
	c.mu.Unlock()
	q.run()
}

// resubscribeStale renews the subscription of every entry still observed
// directly. Indirect-only entries are refreshed through their parent's
// resynchronization. Caller holds the client mutex.
func (c *Client) resubscribeStale(q *emitQueue) {
	for _, e := range c.cache {
		if e.subscribed || e.direct == 0 || e.item == nil {
			continue
		}
		c.resubscribeEntry(e, q)
	}
}
