// Command files-ipc-test drives a running Files instance over its remote
// control IPC and checks that the WebSocket and named pipe transports behave
// identically. Remote control must be enabled in Settings > Advanced so the
// rendezvous file exists and the listeners are up.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/random"

	"github.com/primeinc/Files/pkg/filesapp"
	"github.com/primeinc/Files/pkg/filesipc"
	"github.com/primeinc/Files/pkg/rendezvous"
)

var (
	transportFlag = flag.String("transport", "both", "transport to exercise: ws, pipe or both")
	suiteFlag     = flag.String("test", "all", "suite to run: basic, multi, notify or all")
	infoFlag      = flag.String("info", "", "path to ipc.info (default: discover it)")
	tokenFlag     = flag.String("token", "", "override the rendezvous token")
	timeoutFlag   = flag.Duration("timeout", 10*time.Second, "per-call timeout")
	debugFlag     = flag.Bool("debug", false, "log protocol-level events")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	level := zerolog.InfoLevel
	if *debugFlag {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.StampMilli}).
		Level(level).
		With().Timestamp().Logger()

	info, err := loadInfo()
	if err != nil {
		log.Error().Err(err).Msg("IPC discovery failed (is remote control enabled?)")
		return 1
	}
	log.Info().
		Str("token", info.Token[:min(8, len(info.Token))]+"...").
		Int("ws_port", info.WebSocketPort).
		Str("pipe", info.PipeName).
		Msg("Discovered IPC config")

	var transports []string
	switch *transportFlag {
	case "both":
		transports = []string{"ws", "pipe"}
	case "ws", "pipe":
		transports = []string{*transportFlag}
	default:
		log.Error().Str("transport", *transportFlag).Msg("Unknown transport")
		return 2
	}

	ctx := context.Background()
	allPassed := true
	for _, transport := range transports {
		if *suiteFlag == "basic" || *suiteFlag == "all" {
			allPassed = runBasicSuite(ctx, log, transport, info) && allPassed
		}
		if *suiteFlag == "multi" || *suiteFlag == "all" {
			allPassed = runMultiClient(ctx, log, transport, info) && allPassed
		}
		if *suiteFlag == "notify" || *suiteFlag == "all" {
			allPassed = runNotifications(ctx, log, transport, info) && allPassed
		}
	}

	if allPassed {
		log.Info().Msg("ALL TESTS PASSED, transports have 1:1 parity")
		return 0
	}
	log.Error().Msg("SOME TESTS FAILED")
	return 1
}

func loadInfo() (*rendezvous.Info, error) {
	var info *rendezvous.Info
	var err error
	if *infoFlag != "" {
		info, err = rendezvous.Load(*infoFlag)
	} else {
		info, err = rendezvous.Discover()
	}
	if err != nil {
		// A token on the command line is enough for the default endpoints.
		if *tokenFlag != "" {
			return &rendezvous.Info{Token: *tokenFlag, WebSocketPort: rendezvous.DefaultWebSocketPort}, nil
		}
		return nil, err
	}
	if *tokenFlag != "" {
		info.Token = *tokenFlag
	}
	return info, nil
}

func dialTransport(ctx context.Context, transport string, info *rendezvous.Info) (filesipc.Transport, error) {
	switch transport {
	case "ws":
		return filesipc.DialWebSocket(ctx, info.WebSocketURL())
	case "pipe":
		return filesipc.DialPipe(ctx, info.PipeName)
	default:
		return nil, fmt.Errorf("unknown transport %q", transport)
	}
}

// connect dials, attaches a client and completes the handshake. The dial is
// retried once since the app may still be binding its listeners; a rejected
// token is never retried.
func connect(ctx context.Context, log zerolog.Logger, transport string, info *rendezvous.Info) (*filesapp.App, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tr, err := dialTransport(dialCtx, transport, info)
	if err != nil {
		log.Debug().Err(err).Msg("Dial failed, retrying once")
		tr, err = dialTransport(dialCtx, transport, info)
		if err != nil {
			return nil, err
		}
	}

	c := filesipc.NewClient(filesipc.Config{
		Logger:      log,
		CallTimeout: *timeoutFlag,
	})
	if err := c.Connect(tr); err != nil {
		_ = tr.Close()
		return nil, err
	}
	clientInfo := "files-ipc-test-" + transport + "-" + random.String(6)
	if err := c.Handshake(ctx, info.Token, clientInfo); err != nil {
		_ = c.Close()
		return nil, err
	}
	return filesapp.New(c), nil
}

// suite tracks scenario outcomes for one transport.
type suite struct {
	log    zerolog.Logger
	app    *filesapp.App
	passed int
	failed int
}

func (s *suite) run(ctx context.Context, name string, fn func(ctx context.Context) error) {
	if err := fn(ctx); err != nil {
		s.failed++
		s.log.Error().Err(err).Str("scenario", name).Msg("FAIL")
		return
	}
	s.passed++
	s.log.Info().Str("scenario", name).Msg("PASS")
}

func runBasicSuite(ctx context.Context, log zerolog.Logger, transport string, info *rendezvous.Info) bool {
	log = log.With().Str("transport", transport).Str("suite", "basic").Logger()
	app, err := connect(ctx, log, transport, info)
	if err != nil {
		log.Error().Err(err).Msg("Connect failed")
		return false
	}
	defer app.Client().Close()

	s := &suite{log: log, app: app}
	s.run(ctx, "basic operations", s.basicOperations)
	s.run(ctx, "navigation", s.navigation)
	s.run(ctx, "invalid paths", s.invalidPaths)
	s.run(ctx, "metadata", s.metadata)
	s.run(ctx, "actions", s.actions)
	s.run(ctx, "error handling", s.errorHandling)
	s.run(ctx, "large payload", s.largePayload)

	log.Info().Int("passed", s.passed).Int("failed", s.failed).Msg("Suite finished")
	return s.failed == 0
}

func (s *suite) basicOperations(ctx context.Context) error {
	state, err := s.app.State(ctx)
	if err != nil {
		return fmt.Errorf("getState: %w", err)
	}
	if state.CurrentPath == "" {
		return fmt.Errorf("getState returned an empty currentPath")
	}
	actions, err := s.app.ListActions(ctx)
	if err != nil {
		return fmt.Errorf("listActions: %w", err)
	}
	if len(actions) == 0 {
		return fmt.Errorf("no actions available")
	}
	return nil
}

func (s *suite) navigation(ctx context.Context) error {
	if _, err := s.app.Navigate(ctx, `C:\Windows`); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	state, err := s.app.State(ctx)
	if err != nil {
		return fmt.Errorf("getState: %w", err)
	}
	if !strings.EqualFold(state.CurrentPath, `C:\Windows`) {
		return fmt.Errorf("navigation not reflected, currentPath=%q", state.CurrentPath)
	}
	if _, err := s.app.Navigate(ctx, `C:\Users`); err != nil {
		return fmt.Errorf("navigate back: %w", err)
	}
	return nil
}

func (s *suite) invalidPaths(ctx context.Context) error {
	// The server's policy on bad paths varies by build (error vs status
	// field); only the connection surviving is asserted here.
	if _, err := s.app.Navigate(ctx, `Z:\NonExistent\Path`); err != nil && !isRPCError(err) {
		return fmt.Errorf("nonexistent path broke the connection: %w", err)
	}
	longPath := `C:\` + strings.Repeat(`\VeryLongFolder`, 100)
	if _, err := s.app.Navigate(ctx, longPath); err != nil && !isRPCError(err) {
		return fmt.Errorf("long path broke the connection: %w", err)
	}
	if s.app.Client().State() != filesipc.StateReady {
		return fmt.Errorf("connection no longer ready")
	}
	return nil
}

func (s *suite) metadata(ctx context.Context) error {
	items, err := s.app.Metadata(ctx, []string{`C:\Windows`, `C:\Users`, `C:\Program Files`})
	if err != nil {
		return fmt.Errorf("getMetadata: %w", err)
	}
	if len(items) == 0 {
		return fmt.Errorf("no metadata returned")
	}
	for _, item := range items {
		if item.Path == "" {
			return fmt.Errorf("metadata item without a path: %+v", item)
		}
	}
	return nil
}

func (s *suite) actions(ctx context.Context) error {
	if _, err := s.app.ExecuteAction(ctx, "refresh"); err != nil && !isRPCError(err) {
		return fmt.Errorf("refresh action: %w", err)
	}
	// An unknown action must fail as a structured RPC error, nothing worse.
	if _, err := s.app.ExecuteAction(ctx, "nonExistentAction"); err != nil && !isRPCError(err) {
		return fmt.Errorf("invalid action produced a non-RPC failure: %w", err)
	}
	return nil
}

func (s *suite) errorHandling(ctx context.Context) error {
	if _, err := s.app.Client().CallRaw(ctx, "navigate", map[string]string{}); !isRPCError(err) {
		return fmt.Errorf("navigate without a path: want an RPC error, got %v", err)
	}
	if _, err := s.app.Client().CallRaw(ctx, "thisMethodDoesNotExist", nil); !isRPCError(err) {
		return fmt.Errorf("unknown method: want an RPC error, got %v", err)
	}
	return nil
}

func (s *suite) largePayload(ctx context.Context) error {
	paths := make([]string, 100)
	for i := range paths {
		paths[i] = fmt.Sprintf(`C:\TestPath%d`, i)
	}
	if _, err := s.app.Metadata(ctx, paths); err != nil {
		return fmt.Errorf("getMetadata with 100 paths: %w", err)
	}
	return nil
}

func runMultiClient(ctx context.Context, log zerolog.Logger, transport string, info *rendezvous.Info) bool {
	log = log.With().Str("transport", transport).Str("suite", "multi").Logger()

	const clients = 3
	apps := make([]*filesapp.App, 0, clients)
	defer func() {
		for _, app := range apps {
			_ = app.Client().Close()
		}
	}()
	for i := 0; i < clients; i++ {
		app, err := connect(ctx, log, transport, info)
		if err != nil {
			log.Error().Err(err).Int("client", i+1).Msg("Connect failed")
			return false
		}
		apps = append(apps, app)
		log.Info().Int("client", i+1).Msg("Connected")
	}

	var wg sync.WaitGroup
	errs := make([]error, clients)
	for i, app := range apps {
		i, app := i, app
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, err := app.State(ctx)
			if err == nil && state.CurrentPath == "" {
				err = errors.New("empty currentPath")
			}
			errs[i] = err
		}()
	}
	wg.Wait()

	ok := true
	for i, err := range errs {
		if err != nil {
			log.Error().Err(err).Int("client", i+1).Msg("Concurrent getState failed")
			ok = false
		}
	}
	if ok {
		log.Info().Int("clients", clients).Msg("Multi-client test passed")
	}
	return ok
}

func runNotifications(ctx context.Context, log zerolog.Logger, transport string, info *rendezvous.Info) bool {
	log = log.With().Str("transport", transport).Str("suite", "notify").Logger()

	// Two clients: the second must see broadcasts caused by the first.
	actor, err := connect(ctx, log, transport, info)
	if err != nil {
		log.Error().Err(err).Msg("Connect failed")
		return false
	}
	defer actor.Client().Close()
	observer, err := connect(ctx, log, transport, info)
	if err != nil {
		log.Error().Err(err).Msg("Observer connect failed")
		return false
	}
	defer observer.Client().Close()

	drainNotifications(observer.Client())
	if _, err := actor.Navigate(ctx, `C:\Windows`); err != nil && !isRPCError(err) {
		log.Error().Err(err).Msg("Navigate failed")
		return false
	}

	seen := waitForNotification(observer.Client(), filesapp.MethodNavigationStateChanged, 3*time.Second)
	if seen == nil {
		// Broadcast wiring is version-dependent; surface it loudly but do
		// not fail transport parity on it.
		log.Warn().Msg("No navigationStateChanged broadcast reached the observer")
	} else {
		nav, err := filesapp.DecodeNavigationStateChange(seen.Params)
		if err != nil {
			log.Error().Err(err).Msg("Malformed navigationStateChanged payload")
			return false
		}
		log.Info().Str("path", nav.Path).Bool("back", nav.CanNavigateBack).Msg("Observer saw navigation broadcast")
	}

	if _, err := actor.Navigate(ctx, `C:\Users`); err != nil && !isRPCError(err) {
		log.Error().Err(err).Msg("Navigate back failed")
		return false
	}
	log.Info().Msg("Notification test finished")
	return true
}

func drainNotifications(c *filesipc.Client) {
	for {
		select {
		case <-c.Notifications():
		default:
			return
		}
	}
}

func waitForNotification(c *filesipc.Client, method string, timeout time.Duration) *filesipc.Notification {
	deadline := time.After(timeout)
	for {
		select {
		case n := <-c.Notifications():
			if n.Method == method {
				return &n
			}
		case <-c.Done():
			return nil
		case <-deadline:
			return nil
		}
	}
}

func isRPCError(err error) bool {
	var rpcErr *filesipc.RPCError
	return errors.As(err, &rpcErr)
}
