package filesipc

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

func newPipePair(t *testing.T) (Transport, net.Conn) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	tr := NewPipeTransport(clientConn)
	t.Cleanup(func() {
		_ = tr.Close()
		_ = serverConn.Close()
	})
	return tr, serverConn
}

func TestPipeTransportRoundTrip(t *testing.T) {
	tr, serverConn := newPipePair(t)
	sr := bufio.NewReader(serverConn)

	go func() {
		req, err := readFrame(sr)
		if err != nil {
			t.Errorf("server readFrame: %v", err)
			return
		}
		if string(req) != `{"id":1,"method":"getState"}` {
			t.Errorf("server got %q", req)
		}
		_ = writeFrame(serverConn, []byte(`{"id":1,"result":{"itemCount":3}}`))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Send(ctx, []byte(`{"id":1,"method":"getState"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	resp, err := tr.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(resp) != `{"id":1,"result":{"itemCount":3}}` {
		t.Fatalf("Receive got %q", resp)
	}
}

func TestPipeConcurrentWritersDoNotInterleave(t *testing.T) {
	const writers, perWriter = 8, 25
	tr, serverConn := newPipePair(t)
	sr := bufio.NewReader(serverConn)

	frames := make(chan []byte, writers*perWriter)
	go func() {
		defer close(frames)
		for n := 0; n < writers*perWriter; n++ {
			data, err := readFrame(sr)
			if err != nil {
				t.Errorf("server readFrame: %v", err)
				return
			}
			frames <- data
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				msg := fmt.Sprintf(`{"id":%d,"method":"executeAction","params":{"actionId":"refresh"}}`, w*perWriter+i+1)
				if err := tr.Send(ctx, []byte(msg)); err != nil {
					t.Errorf("Send: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	count := 0
	for data := range frames {
		if !json.Valid(data) {
			t.Fatalf("interleaved frame on the wire: %q", data)
		}
		count++
	}
	if count != writers*perWriter {
		t.Fatalf("server saw %d frames, want %d", count, writers*perWriter)
	}
}

func TestPipeTruncatedStreamIsFatal(t *testing.T) {
	tr, serverConn := newPipePair(t)

	go func() {
		var header [4]byte
		binary.LittleEndian.PutUint32(header[:], 100)
		_, _ = serverConn.Write(header[:])
		_, _ = serverConn.Write([]byte("short"))
		_ = serverConn.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := tr.Receive(ctx)
	var fe *FramingError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FramingError on truncated stream, got %v", err)
	}
}

func TestPipeCloseUnblocksReceive(t *testing.T) {
	tr, _ := newPipePair(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := tr.Receive(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond) // let Receive block
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-errCh:
		if err != io.EOF {
			t.Fatalf("Receive after Close = %v, want io.EOF", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Receive still blocked after Close")
	}
	// Second close stays quiet.
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

// servePipeRPC is a minimal frame server: answers the handshake, echoes the
// method name for everything else, and broadcasts one marked notification
// after the first non-handshake call.
func servePipeRPC(t *testing.T, conn net.Conn) {
	sr := bufio.NewReader(conn)
	notified := false
	for {
		data, err := readFrame(sr)
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			t.Errorf("server got malformed request: %v", err)
			return
		}
		if req.Method == "handshake" {
			_ = writeFrame(conn, []byte(fmt.Sprintf(`{"id":%d,"result":{"status":"authenticated"}}`, req.ID)))
			continue
		}
		if !notified {
			notified = true
			_ = writeFrame(conn, []byte(`{"IsNotification":true,"method":"itemsChanged","params":{"items":[]}}`))
		}
		_ = writeFrame(conn, []byte(fmt.Sprintf(`{"id":%d,"result":{"echo":%q}}`, req.ID, req.Method)))
	}
}

func TestPipeClientEndToEnd(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	go servePipeRPC(t, serverConn)

	c := NewClient(Config{})
	if err := c.Connect(NewPipeTransport(clientConn)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Handshake(ctx, testToken, "pipe-e2e"); err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	var out struct {
		Echo string `json:"echo"`
	}
	if err := c.Call(ctx, "getState", nil, &out); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out.Echo != "getState" {
		t.Fatalf("wrong echo: %+v", out)
	}

	select {
	case n := <-c.Notifications():
		if n.Method != "itemsChanged" {
			t.Fatalf("wrong notification: %s", n.Method)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("broadcast never arrived")
	}
}
