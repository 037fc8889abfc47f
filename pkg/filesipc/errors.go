package filesipc

import "errors"

var (
	// ErrConnectionClosed resolves every call still pending when the
	// connection is torn down, whether by Close or by transport failure.
	ErrConnectionClosed = errors.New("filesipc: connection closed")

	// ErrCallTimeout means no response arrived within the call's deadline.
	// The connection itself stays healthy.
	ErrCallTimeout = errors.New("filesipc: call timed out")

	// ErrNotReady means a call was attempted before the handshake completed
	// (or after teardown began).
	ErrNotReady = errors.New("filesipc: connection not ready")

	ErrAlreadyConnected = errors.New("filesipc: already connected")

	// ErrPipesUnsupported is returned by DialPipe on platforms where the
	// Files app cannot serve a named pipe.
	ErrPipesUnsupported = errors.New("filesipc: named pipes are not supported on this platform")
)

// AuthError is a rejected handshake. A wrong token is not a transient
// condition; callers must not retry on this.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "filesipc: handshake rejected: " + e.Reason
}

// FramingError is a wire message whose bytes could not be framed as declared.
// On the length-prefixed pipe it is fatal to the connection: once a header or
// payload is truncated the stream position is unknown and there is no way to
// resynchronize.
type FramingError struct {
	Reason string
	Err    error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return "filesipc: framing: " + e.Reason + ": " + e.Err.Error()
	}
	return "filesipc: framing: " + e.Reason
}

func (e *FramingError) Unwrap() error {
	return e.Err
}
