// Package rendezvous locates the connection details the Files app publishes
// when remote control is enabled: a shared-secret token, the WebSocket port,
// and the named pipe name, all in one small JSON file.
package rendezvous

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// EnvInfoPath overrides the discovery location. Mainly for tests and
	// for pointing at a portable instance's data directory.
	EnvInfoPath = "FILES_IPC_INFO"

	// DefaultWebSocketPort is assumed when the rendezvous file predates the
	// webSocketPort field.
	DefaultWebSocketPort = 52345

	infoDirName  = "FilesIPC"
	infoFileName = "ipc.info"
)

// ErrNoToken means the rendezvous file exists but carries no token, which
// happens when remote control was toggled off after the file was written.
var ErrNoToken = errors.New("rendezvous: no token in ipc.info")

type Info struct {
	Token         string `json:"token"`
	WebSocketPort int    `json:"webSocketPort"`
	PipeName      string `json:"pipeName"`
}

// DefaultPath is %LOCALAPPDATA%\FilesIPC\ipc.info, where the app writes the
// file on startup, unless EnvInfoPath points elsewhere.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvInfoPath); p != "" {
		return p, nil
	}
	base := os.Getenv("LOCALAPPDATA")
	if base == "" {
		return "", fmt.Errorf("rendezvous: LOCALAPPDATA not set and %s not provided", EnvInfoPath)
	}
	return filepath.Join(base, infoDirName, infoFileName), nil
}

// Discover loads the rendezvous file from its default location. A missing
// file usually means remote control is disabled in the app's settings.
func Discover() (*Info, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

func Load(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: read %s: %w", path, err)
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("rendezvous: parse %s: %w", path, err)
	}
	if info.Token == "" {
		return nil, fmt.Errorf("%w (%s)", ErrNoToken, path)
	}
	if info.WebSocketPort == 0 {
		info.WebSocketPort = DefaultWebSocketPort
	}
	return &info, nil
}

// WebSocketURL is the dialable endpoint for the socket transport. The
// server only listens on loopback.
func (i *Info) WebSocketURL() string {
	return fmt.Sprintf("ws://127.0.0.1:%d/", i.WebSocketPort)
}

// PipePath is the full named pipe path for the pipe transport.
func (i *Info) PipePath() string {
	return `\\.\pipe\` + i.PipeName
}
