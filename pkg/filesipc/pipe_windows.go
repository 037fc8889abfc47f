//go:build windows

package filesipc

import (
	"context"
	"fmt"
	"strings"

	"github.com/Microsoft/go-winio"
)

// DialPipe connects to the Files IPC named pipe. The server must already be
// listening: absence of the pipe is surfaced immediately as a dial error,
// not polled.
func DialPipe(ctx context.Context, name string) (Transport, error) {
	path := name
	if !strings.HasPrefix(path, `\\.\pipe\`) {
		path = `\\.\pipe\` + path
	}
	conn, err := winio.DialPipeContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("filesipc: dial pipe %s: %w", path, err)
	}
	return NewPipeTransport(conn), nil
}
