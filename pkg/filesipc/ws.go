package filesipc

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// wsReadLimit replaces coder/websocket's 32 KiB default; getMetadata
// responses for large directories routinely exceed it.
const wsReadLimit = 16 << 20

type wsTransport struct {
	conn *websocket.Conn

	closeOnce sync.Once
	closeErr  error
}

// DialWebSocket connects to the Files IPC WebSocket endpoint, e.g.
// "ws://127.0.0.1:52345/". Refusal or dial timeout is fatal; the caller
// decides whether to retry.
func DialWebSocket(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("filesipc: dial %s: %w", url, err)
	}
	conn.SetReadLimit(wsReadLimit)
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) Send(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close(websocket.StatusNormalClosure, "")
	})
	return t.closeErr
}
