package filesipc

import (
	"bufio"
	"context"
	"io"
	"sync"
)

// pipeTransport frames JSON documents over a raw byte stream. The Files
// server speaks this on its named pipe; tests drive it over net.Pipe.
//
// The underlying handle has no cancellable read, so the blocking read runs
// on whichever goroutine calls Receive (the client dedicates one to it) and
// Close is the way to abort a read already in flight.
type pipeTransport struct {
	rwc io.ReadWriteCloser
	br  *bufio.Reader

	// Serializes writers so two frames can never interleave their header and
	// payload bytes on the wire.
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// NewPipeTransport wraps an already-connected byte stream in length-prefixed
// framing. Use DialPipe to reach the Files app's named pipe.
func NewPipeTransport(rwc io.ReadWriteCloser) Transport {
	return &pipeTransport{
		rwc:    rwc,
		br:     bufio.NewReader(rwc),
		closed: make(chan struct{}),
	}
}

func (t *pipeTransport) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-t.closed:
		return ErrConnectionClosed
	default:
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return writeFrame(t.rwc, data)
}

func (t *pipeTransport) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := readFrame(t.br)
	if err != nil {
		select {
		case <-t.closed:
			// Locally initiated close; report a plain disconnect rather
			// than whatever error the aborted read produced.
			return nil, io.EOF
		default:
		}
		return nil, err
	}
	return data, nil
}

func (t *pipeTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.closeErr = t.rwc.Close()
	})
	return t.closeErr
}
