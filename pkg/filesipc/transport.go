package filesipc

import "context"

// Transport owns one live connection to the Files IPC server and moves whole
// JSON documents as opaque byte slices. The WebSocket variant maps one
// document to one text frame; the pipe variant length-prefixes each document
// onto a raw byte stream.
type Transport interface {
	// Send writes one complete message. Safe for concurrent use; a message
	// is never interleaved with another on the wire.
	Send(ctx context.Context, data []byte) error

	// Receive blocks until the next complete message arrives or the
	// connection drops. It is meant for a single reader (the client's
	// dispatch loop); Close unblocks a pending Receive.
	Receive(ctx context.Context) ([]byte, error)

	// Close tears the connection down. Idempotent, callable from any state.
	Close() error
}
