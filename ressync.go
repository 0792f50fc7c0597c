// Package ressync is a client for resource-oriented, subscription-based
// RPC APIs carried over a persistent WebSocket. Remote resources — models
// (key/value) and collections of models — are presented as local,
// live-updating values that the client keeps synchronized: subscriptions
// are multiplexed over one connection, interest is reference-counted, idle
// resources degrade to a stale state, and everything resynchronizes on
// reconnect.
//
// Example:
//
//	client := ressync.NewClient("wss://api.example.com/rpc")
//
//	res, err := client.GetResource(ctx, "chat.room.lobby")
//	if err != nil {
//		log.Fatal(err)
//	}
//	room := res.(*ressync.Collection)
//
//	room.On("add remove", func(event string, data any) {
//		fmt.Println(event, data)
//	})
//
//	_, err = client.CallModel(ctx, "chat.room.lobby", "post", map[string]any{
//		"text": "hello",
//	})
package ressync

import (
	"context"
	"encoding/json"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// Defaults
// ============================================================================

const (
	DefaultNamespace      = "ressync"
	DefaultReconnectDelay = 3 * time.Second
	DefaultStaleDelay     = 2 * time.Second
)

// modelTypeID is the shape a model type id must have: exactly two
// dot-separated segments.
var modelTypeID = regexp.MustCompile(`^[^.]+\.[^.]+$`)

// ============================================================================
// Model types
// ============================================================================

// ModelFactory constructs the model value for a resource from its first
// snapshot.
type ModelFactory func(c *Client, rid string, props map[string]any) *Model

// ChangeHandler replaces the default application of change deltas for a
// model type. Keys removed by the delta carry the Deleted sentinel.
type ChangeHandler func(c *Client, m *Model, delta map[string]any)

// ModelType binds a two-segment resource id prefix to a factory and an
// optional change handler.
type ModelType struct {
	ID     string
	New    ModelFactory
	Change ChangeHandler
}

// ============================================================================
// Client
// ============================================================================

// Client is the connection to one server. The zero value is not usable;
// construct with NewClient.
type Client struct {
	url            string
	namespace      string
	log            *zap.Logger
	transport      Transport
	reconnectDelay time.Duration
	staleDelay     time.Duration

	bus *eventBus

	mu             sync.Mutex
	state          ConnState
	tryConnect     bool
	conn           Conn
	connPromise    *connPromise
	reconnectTimer *time.Timer
	onConnect      func(context.Context, *Client) error
	nextID         uint64
	pending        map[uint64]*pendingRequest
	cache          map[string]*cacheEntry
	types          map[string]*ModelType
	defaultType    ModelType
}

// Option configures a client.
type Option func(*Client)

// WithNamespace sets the event namespace used in passthrough event paths.
func WithNamespace(ns string) Option {
	return func(c *Client) { c.namespace = ns }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithTransport substitutes the connection transport.
func WithTransport(t Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithReconnectDelay sets the delay before a reconnect attempt.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) { c.reconnectDelay = d }
}

// WithStaleDelay sets how long an observed resource stays stale before the
// client resubscribes it.
func WithStaleDelay(d time.Duration) Option {
	return func(c *Client) { c.staleDelay = d }
}

// WithOnConnect installs the connect hook; see SetOnConnect.
func WithOnConnect(hook func(context.Context, *Client) error) Option {
	return func(c *Client) { c.onConnect = hook }
}

// NewClient creates a client for the given URL. ws:// and wss:// URLs are
// used verbatim; http:// and https:// are rewritten. The client does not
// connect until Connect or the first resource operation.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:            url,
		namespace:      DefaultNamespace,
		log:            zap.NewNop(),
		transport:      wsTransport{},
		reconnectDelay: DefaultReconnectDelay,
		staleDelay:     DefaultStaleDelay,
		bus:            newEventBus(),
		state:          StateIdle,
		pending:        make(map[uint64]*pendingRequest),
		cache:          make(map[string]*cacheEntry),
		types:          make(map[string]*ModelType),
		defaultType:    ModelType{New: NewModel},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ============================================================================
// Resource operations
// ============================================================================

// GetResource subscribes to rid and returns its live value, a *Model or a
// *Collection. A cached value is returned as is; concurrent calls for the
// same rid share one fetch.
func (c *Client) GetResource(ctx context.Context, rid string) (Resource, error) {
	if rid == "" {
		return nil, &ConfigError{Msg: "empty resource id"}
	}
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c.getOrFetch(ctx, rid)
}

// CreateModel creates a model in a collection. The server responds with
// the new model's resource id and snapshot; the caller is subscribed to
// the created model.
func (c *Client) CreateModel(ctx context.Context, collectionRID string, props map[string]any) (*Model, error) {
	res, err := c.request(ctx, "call."+collectionRID+".new", props)
	if err != nil {
		return nil, err
	}
	var nr newResult
	if err := json.Unmarshal(res, &nr); err != nil || nr.RID == "" {
		return nil, &ProtocolError{Msg: "malformed create result"}
	}

	c.mu.Lock()
	var q emitQueue
	e := c.cache[nr.RID]
	if e == nil {
		e = &cacheEntry{rid: nr.RID}
		c.cache[nr.RID] = e
	}
	e.subscribed = true
	if _, ierr := c.ingestSnapshot(nr.RID, nr.Data, false, &q); ierr != nil {
		e.subscribed = false
		c.tryRelease(e, &q)
		c.mu.Unlock()
		q.run()
		return nil, ierr
	}
	m, ok := e.item.(*Model)
	c.mu.Unlock()
	q.run()
	if !ok {
		return nil, &ProtocolError{Msg: "created resource " + nr.RID + " is not a model"}
	}
	return m, nil
}

// RemoveModel removes a model from a collection. The cache updates when
// the server's remove event arrives.
func (c *Client) RemoveModel(ctx context.Context, collectionRID, rid string) error {
	_, err := c.request(ctx, "call."+collectionRID+".delete", map[string]any{"rid": rid})
	return err
}

// SetModel updates model properties. A nil value deletes its key: it is
// translated to the wire delete sentinel at the codec boundary.
func (c *Client) SetModel(ctx context.Context, rid string, props map[string]any) (json.RawMessage, error) {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if v == nil {
			out[k] = newDeleteSentinel()
		} else {
			out[k] = v
		}
	}
	return c.request(ctx, "call."+rid+".set", out)
}

// CallModel invokes a method on a resource and returns the raw result.
func (c *Client) CallModel(ctx context.Context, rid, method string, params any) (json.RawMessage, error) {
	if method == "" {
		return nil, &ConfigError{Msg: "empty method"}
	}
	return c.request(ctx, "call."+rid+"."+method, params)
}

// Authenticate invokes an authentication method on a resource. It is
// usually called from the connect hook.
func (c *Client) Authenticate(ctx context.Context, rid, method string, params any) (json.RawMessage, error) {
	if method == "" {
		return nil, &ConfigError{Msg: "empty method"}
	}
	return c.request(ctx, "auth."+rid+"."+method, params)
}

// ============================================================================
// Model type registry
// ============================================================================

// RegisterModelType registers a model type for its two-segment resource id
// prefix. A malformed or duplicate id is a ConfigError.
func (c *Client) RegisterModelType(t ModelType) error {
	if !modelTypeID.MatchString(t.ID) {
		return &ConfigError{Msg: "malformed model type id " + t.ID}
	}
	if t.New == nil {
		t.New = NewModel
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.types[t.ID]; exists {
		return &ConfigError{Msg: "model type " + t.ID + " already registered"}
	}
	c.types[t.ID] = &t
	return nil
}

// UnregisterModelType removes a registered model type and returns it, or
// nil if the id is unknown. Models already created keep their type.
func (c *Client) UnregisterModelType(id string) *ModelType {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.types[id]
	delete(c.types, id)
	return t
}

// ============================================================================
// Client events
// ============================================================================

// On attaches a handler for the space-separated client event names:
// "connect", "close" and "error".
func (c *Client) On(events string, h EventHandler) {
	c.bus.on(c, events, h)
}

// Off detaches a handler attached with On.
func (c *Client) Off(events string, h EventHandler) {
	c.bus.off(c, events, h)
}

// queueError defers a client error event. Caller holds the client mutex.
func (c *Client) queueError(q *emitQueue, err error) {
	q.add(func() {
		c.bus.emit(c, "error", "error", err)
	})
}

// emitError emits a client error event immediately. Caller must not hold
// the client mutex.
func (c *Client) emitError(err error) {
	c.bus.emit(c, "error", "error", err)
}
