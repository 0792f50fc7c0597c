package ressync

import (
	"context"
	"errors"
	"strings"
	"sync"

	"nhooyr.io/websocket"
)

var errNotConnected = errors.New("not connected")

// ============================================================================
// Transport contract
// ============================================================================

// Conn is an established framed text-message connection.
type Conn interface {
	// Send writes one text frame.
	Send(ctx context.Context, data []byte) error
	// Receive blocks for the next text frame. It returns an error once the
	// connection is closed.
	Receive(ctx context.Context) ([]byte, error)
	// Close closes the connection; a blocked Receive returns.
	Close() error
}

// Transport establishes connections. The default is the WebSocket
// transport; tests and embedders may substitute their own.
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// ============================================================================
// WebSocket transport
// ============================================================================

type wsTransport struct{}

func (wsTransport) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (w *wsConn) Send(ctx context.Context, data []byte) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *wsConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "")
}

// resolveURL accepts ws:// and wss:// URLs verbatim and rewrites http(s)
// to the corresponding WebSocket scheme. Anything else is rejected; there
// is no document to resolve relative URLs against.
func resolveURL(raw string) (string, error) {
	switch {
	case strings.HasPrefix(raw, "ws://"), strings.HasPrefix(raw, "wss://"):
		return raw, nil
	case strings.HasPrefix(raw, "https://"):
		return "wss://" + strings.TrimPrefix(raw, "https://"), nil
	case strings.HasPrefix(raw, "http://"):
		return "ws://" + strings.TrimPrefix(raw, "http://"), nil
	}
	return "", &ConfigError{Msg: "unsupported URL " + raw}
}
