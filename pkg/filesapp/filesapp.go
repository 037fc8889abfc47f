// Package filesapp carries typed bindings for the Files remote-control
// command surface. The RPC engine treats every method as an opaque
// name/params/result triple; this package is the one place their shapes
// live. Field casing follows the server's serializers, which are camelCase
// for app state and PascalCase for filesystem metadata.
package filesapp

import (
	"context"
	"encoding/json"

	"github.com/primeinc/Files/pkg/filesipc"
)

// Notification methods the server broadcasts to every connected client.
const (
	MethodItemsChanged            = "itemsChanged"
	MethodNavigationStateChanged  = "navigationStateChanged"
	MethodWorkingDirectoryChanged = "workingDirectoryChanged"
)

type App struct {
	rpc *filesipc.Client
}

func New(rpc *filesipc.Client) *App {
	return &App{rpc: rpc}
}

// Client exposes the underlying connection, e.g. for its notification sink.
func (a *App) Client() *filesipc.Client {
	return a.rpc
}

type State struct {
	CurrentPath        string   `json:"currentPath"`
	ItemCount          int      `json:"itemCount"`
	SelectedItems      []string `json:"selectedItems,omitempty"`
	CanNavigateBack    bool     `json:"canNavigateBack,omitempty"`
	CanNavigateForward bool     `json:"canNavigateForward,omitempty"`
}

func (a *App) State(ctx context.Context) (*State, error) {
	var st State
	if err := a.rpc.Call(ctx, "getState", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

type Action struct {
	ID          string `json:"id"`
	Label       string `json:"label,omitempty"`
	Description string `json:"description,omitempty"`
}

func (a *App) ListActions(ctx context.Context) ([]Action, error) {
	var result struct {
		Actions []Action `json:"actions"`
	}
	if err := a.rpc.Call(ctx, "listActions", nil, &result); err != nil {
		return nil, err
	}
	return result.Actions, nil
}

type ItemMetadata struct {
	Path         string `json:"Path"`
	Exists       bool   `json:"Exists"`
	IsFolder     bool   `json:"IsFolder,omitempty"`
	Size         int64  `json:"Size,omitempty"`
	DateModified string `json:"DateModified,omitempty"`
}

func (a *App) Metadata(ctx context.Context, paths []string) ([]ItemMetadata, error) {
	var result struct {
		Items []ItemMetadata `json:"items"`
	}
	params := map[string][]string{"paths": paths}
	if err := a.rpc.Call(ctx, "getMetadata", params, &result); err != nil {
		return nil, err
	}
	return result.Items, nil
}

// Navigate asks the active shell to open path. What the server does with a
// nonexistent path is its own policy (quick error in some builds, success
// with a status field in others), so the result stays raw.
func (a *App) Navigate(ctx context.Context, path string) (json.RawMessage, error) {
	return a.rpc.CallRaw(ctx, "navigate", map[string]string{"path": path})
}

func (a *App) ExecuteAction(ctx context.Context, actionID string) (json.RawMessage, error) {
	return a.rpc.CallRaw(ctx, "executeAction", map[string]string{"actionId": actionID})
}

// ListShells enumerates the app's open windows/panes. Shape is
// version-dependent, so the result stays raw.
func (a *App) ListShells(ctx context.Context) (json.RawMessage, error) {
	return a.rpc.CallRaw(ctx, "listShells", nil)
}

// NavigationStateChange is the payload of navigationStateChanged.
type NavigationStateChange struct {
	Path               string `json:"path"`
	CanNavigateBack    bool   `json:"canNavigateBack"`
	CanNavigateForward bool   `json:"canNavigateForward"`
}

// WorkingDirectoryChange is the payload of workingDirectoryChanged.
type WorkingDirectoryChange struct {
	Path      string `json:"path"`
	IsLibrary bool   `json:"isLibrary"`
}

// ItemsChange is the payload of itemsChanged. Item shapes vary by server
// version and stay raw.
type ItemsChange struct {
	Items []json.RawMessage `json:"items"`
}

func DecodeNavigationStateChange(params json.RawMessage) (*NavigationStateChange, error) {
	var n NavigationStateChange
	if err := json.Unmarshal(params, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func DecodeWorkingDirectoryChange(params json.RawMessage) (*WorkingDirectoryChange, error) {
	var w WorkingDirectoryChange
	if err := json.Unmarshal(params, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func DecodeItemsChange(params json.RawMessage) (*ItemsChange, error) {
	var i ItemsChange
	if err := json.Unmarshal(params, &i); err != nil {
		return nil, err
	}
	return &i, nil
}
