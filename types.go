package ressync

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Errors
// ============================================================================

// ProtocolError reports a malformed or unexpected message on the wire: a
// response with no matching request, an event with a malformed name, or a
// change value the protocol does not allow.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Msg }

// ResourceError is an error response sent by the server for a request.
type ResourceError struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`

	// Method and Params identify the request that failed. They are filled in
	// by the client and are not part of the wire format.
	Method string `json:"-"`
	Params any    `json:"-"`
}

func (e *ResourceError) Error() string {
	if e.Method != "" {
		return e.Code + ": " + e.Message + " (" + e.Method + ")"
	}
	return e.Code + ": " + e.Message
}

// CacheIntegrityError reports a violated cache invariant, such as a removed
// collection element missing from the cache, or a snapshot whose kind does
// not match the cached resource.
type CacheIntegrityError struct {
	Msg string
}

func (e *CacheIntegrityError) Error() string { return "cache integrity: " + e.Msg }

// TransportError reports a failure of the underlying connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return "transport " + e.Op
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ConfigError reports invalid client configuration, such as a malformed or
// duplicate model type id or an unsupported URL scheme.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config: " + e.Msg }

// ============================================================================
// Wire format
// ============================================================================

// requestMsg is a client-to-server request frame.
type requestMsg struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// inboundMsg is any server-to-client frame: a response when ID is set, an
// event when Event is set.
type inboundMsg struct {
	ID     *uint64         `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResourceError  `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// subscribeResult is the result payload of a subscribe response. Data holds
// a model snapshot (object) or a collection snapshot (array of resourceRef).
type subscribeResult struct {
	Data json.RawMessage `json:"data"`
}

// resourceRef is one element of a collection snapshot. Data is nil when the
// server knows the client already holds the referenced model.
type resourceRef struct {
	RID  string          `json:"rid"`
	Data json.RawMessage `json:"data,omitempty"`
}

// newResult is the result payload of a model create call.
type newResult struct {
	RID  string          `json:"rid"`
	Data json.RawMessage `json:"data,omitempty"`
}

// addEventData is the payload of a collection add event.
type addEventData struct {
	RID  string          `json:"rid"`
	Data json.RawMessage `json:"data,omitempty"`
	Idx  int             `json:"idx"`
}

// removeEventData is the payload of a collection remove event.
type removeEventData struct {
	Idx int `json:"idx"`
}

// deleteSentinel is the wire representation of key removal in a change
// event or a set call.
type deleteSentinel struct {
	Action string `json:"action"`
}

const actionDelete = "delete"

func newDeleteSentinel() deleteSentinel { return deleteSentinel{Action: actionDelete} }

// deletedValue is the type of the Deleted sentinel.
type deletedValue struct{}

func (deletedValue) String() string { return "<deleted>" }

// Deleted is the in-process stand-in for a key that does not exist. It
// appears in change deltas for keys removed by a change, and as the old
// value for keys the change introduced.
var Deleted = deletedValue{}

// ============================================================================
// Event payloads
// ============================================================================

// EventHandler receives events dispatched by the client. For the built-in
// resource events the event argument is the plain event name ("change",
// "add", "remove", "unsubscribe"); custom events carry the full namespaced
// event path.
type EventHandler func(event string, data any)

// ChangeEvent is delivered on a model change. OldValues maps every changed
// key to its previous value; keys that did not exist before map to Deleted.
type ChangeEvent struct {
	Item      *Model
	OldValues map[string]any
}

// AddEvent is delivered when a model is inserted into a collection.
type AddEvent struct {
	Item *Model
	Idx  int
}

// RemoveEvent is delivered when a model is removed from a collection.
type RemoveEvent struct {
	Item *Model
	Idx  int
}

// UnsubscribeEvent is delivered when the server drops the subscription for
// a resource the caller is still observing.
type UnsubscribeEvent struct {
	Item Resource
}
