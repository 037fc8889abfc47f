package filesapp

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/primeinc/Files/pkg/filesipc"
)

// Canned results captured from a live Files instance (same shapes the
// Python suites asserted on).
var cannedResults = map[string]string{
	"getState":      `{"currentPath":"C:\\Users","itemCount":42,"selectedItems":["C:\\Users\\me"],"canNavigateBack":true,"canNavigateForward":false}`,
	"listActions":   `{"actions":[{"id":"refresh","label":"Refresh"},{"id":"copyPath","label":"Copy path"}]}`,
	"getMetadata":   `{"items":[{"Path":"C:\\Windows","Exists":true,"IsFolder":true},{"Path":"Z:\\Nope","Exists":false}]}`,
	"navigate":      `{"status":"ok"}`,
	"executeAction": `null`,
	"listShells":    `{"shells":[{"id":"shell-0","currentPath":"C:\\Users"}]}`,
}

func readTestFrame(r *bufio.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	payload := make([]byte, binary.LittleEndian.Uint32(header[:]))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func writeTestFrame(w io.Writer, payload []byte) error {
	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}

// startApp wires an App to a canned-answer server over an in-memory pipe.
func startApp(t *testing.T) *App {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	go func() {
		sr := bufio.NewReader(serverConn)
		for {
			data, err := readTestFrame(sr)
			if err != nil {
				return
			}
			var req struct {
				ID     int64  `json:"id"`
				Method string `json:"method"`
			}
			if err := json.Unmarshal(data, &req); err != nil {
				t.Errorf("malformed request: %v", err)
				return
			}
			var resp map[string]any
			if req.Method == "handshake" {
				resp = map[string]any{"id": req.ID, "result": map[string]string{"status": "authenticated"}}
			} else if result, ok := cannedResults[req.Method]; ok {
				resp = map[string]any{"id": req.ID, "result": json.RawMessage(result)}
			} else {
				resp = map[string]any{"id": req.ID, "error": map[string]any{"code": -32601, "message": "Method not found"}}
			}
			out, _ := json.Marshal(resp)
			_ = writeTestFrame(serverConn, out)
		}
	}()

	c := filesipc.NewClient(filesipc.Config{})
	if err := c.Connect(filesipc.NewPipeTransport(clientConn)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Close()
		_ = serverConn.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Handshake(ctx, "token", "filesapp-test"); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	return New(c)
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestState(t *testing.T) {
	app := startApp(t)
	st, err := app.State(testCtx(t))
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if st.CurrentPath != `C:\Users` || st.ItemCount != 42 || !st.CanNavigateBack {
		t.Fatalf("wrong state: %+v", st)
	}
}

func TestListActions(t *testing.T) {
	app := startApp(t)
	actions, err := app.ListActions(testCtx(t))
	if err != nil {
		t.Fatalf("ListActions: %v", err)
	}
	if len(actions) != 2 || actions[0].ID != "refresh" {
		t.Fatalf("wrong actions: %+v", actions)
	}
}

func TestMetadata(t *testing.T) {
	app := startApp(t)
	items, err := app.Metadata(testCtx(t), []string{`C:\Windows`, `Z:\Nope`})
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("wrong item count: %+v", items)
	}
	if !items[0].Exists || !items[0].IsFolder || items[1].Exists {
		t.Fatalf("wrong metadata: %+v", items)
	}
}

func TestNavigateAndExecuteAction(t *testing.T) {
	app := startApp(t)
	raw, err := app.Navigate(testCtx(t), `C:\Windows`)
	if err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if string(raw) != `{"status":"ok"}` {
		t.Fatalf("Navigate result = %s", raw)
	}
	if _, err := app.ExecuteAction(testCtx(t), "refresh"); err != nil {
		t.Fatalf("ExecuteAction: %v", err)
	}
}

func TestUnknownMethodSurfacesRPCError(t *testing.T) {
	app := startApp(t)
	_, err := app.Client().CallRaw(testCtx(t), "thisMethodDoesNotExist", nil)
	var rpcErr *filesipc.RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %v", err)
	}
	if rpcErr.Code != -32601 {
		t.Fatalf("wrong code: %+v", rpcErr)
	}
}

func TestDecodeNotificationPayloads(t *testing.T) {
	nav, err := DecodeNavigationStateChange(json.RawMessage(`{"path":"C:\\Windows","canNavigateBack":true,"canNavigateForward":false}`))
	if err != nil {
		t.Fatalf("DecodeNavigationStateChange: %v", err)
	}
	if nav.Path != `C:\Windows` || !nav.CanNavigateBack {
		t.Fatalf("wrong payload: %+v", nav)
	}

	wd, err := DecodeWorkingDirectoryChange(json.RawMessage(`{"path":"C:\\Users","isLibrary":true}`))
	if err != nil {
		t.Fatalf("DecodeWorkingDirectoryChange: %v", err)
	}
	if wd.Path != `C:\Users` || !wd.IsLibrary {
		t.Fatalf("wrong payload: %+v", wd)
	}

	items, err := DecodeItemsChange(json.RawMessage(`{"items":[{"name":"a.txt"},{"name":"b.txt"}]}`))
	if err != nil {
		t.Fatalf("DecodeItemsChange: %v", err)
	}
	if len(items.Items) != 2 {
		t.Fatalf("wrong payload: %+v", items)
	}
}
