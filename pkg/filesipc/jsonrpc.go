package filesipc

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC 2.0 messages as the Files IPC server speaks them. Requests carry
// the protocol version field; the server omits it on responses.

const protocolVersion = "2.0"

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Notification is a server-initiated message with no response obligation.
type Notification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// RPCError is a structured error returned by the server for one request. The
// connection stays healthy when one of these comes back.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// envelope is the shape probe for every incoming message. The pipe server
// marks its broadcasts with "IsNotification" (PascalCase, straight from its
// serializer); the WebSocket server just leaves the id out.
type envelope struct {
	ID             *int64          `json:"id"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params"`
	Result         json.RawMessage `json:"result"`
	Error          *RPCError       `json:"error"`
	IsNotification bool            `json:"IsNotification"`
}

func (e *envelope) isNotification() bool {
	return e.IsNotification || e.ID == nil
}
