package filesipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ConnState tracks the connection lifecycle. Only StateReady admits calls
// other than the handshake.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnState(%d)", int32(s))
	}
}

const (
	// DefaultCallTimeout bounds Call when the caller's context carries no
	// deadline of its own.
	DefaultCallTimeout = 15 * time.Second

	// DefaultNotifyBuffer is the capacity of the Notifications channel.
	DefaultNotifyBuffer = 64
)

type Config struct {
	// Logger receives protocol-level events (skipped frames, discarded
	// responses, dropped notifications). The zero value discards everything.
	Logger zerolog.Logger

	// CallTimeout replaces DefaultCallTimeout when positive.
	CallTimeout time.Duration

	// NotifyBuffer replaces DefaultNotifyBuffer when positive. When the
	// consumer falls behind, the oldest notification is dropped; the
	// dispatch loop never blocks on the sink.
	NotifyBuffer int
}

// Client multiplexes correlated request/response pairs and server-pushed
// notifications over one Transport. One Client owns one connection;
// independent clients share nothing, so any number of them may target the
// same server side by side.
type Client struct {
	log zerolog.Logger
	cfg Config

	transport Transport
	state     atomic.Int32
	nextID    atomic.Int64
	calls     *correlator

	notifCh   chan Notification
	notifMu   sync.RWMutex
	notifSubs []func(method string, params json.RawMessage)

	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(cfg Config) *Client {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.NotifyBuffer <= 0 {
		cfg.NotifyBuffer = DefaultNotifyBuffer
	}
	c := &Client{
		log:     cfg.Logger.With().Str("component", "filesipc").Logger(),
		cfg:     cfg,
		calls:   newCorrelator(),
		notifCh: make(chan Notification, cfg.NotifyBuffer),
		done:    make(chan struct{}),
	}
	c.state.Store(int32(StateDisconnected))
	return c
}

// Connect attaches the client to an established transport and starts the
// dispatch loop. The connection only admits Handshake until that succeeds.
func (c *Client) Connect(t Transport) error {
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return ErrAlreadyConnected
	}
	c.transport = t
	c.state.Store(int32(StateAuthenticating))
	go c.dispatchLoop()
	return nil
}

func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

// Done is closed when the connection reaches StateClosed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Notifications delivers server-pushed messages in arrival order. The
// channel is never closed; select on Done for teardown.
func (c *Client) Notifications() <-chan Notification {
	return c.notifCh
}

// OnNotification registers a callback invoked synchronously from the
// dispatch loop for every notification, in addition to the channel.
func (c *Client) OnNotification(fn func(method string, params json.RawMessage)) {
	if fn == nil {
		return
	}
	c.notifMu.Lock()
	c.notifSubs = append(c.notifSubs, fn)
	c.notifMu.Unlock()
}

// Handshake exchanges the shared-secret token for an authenticated session
// and moves the connection to StateReady. It is the only call permitted
// before that. A *AuthError is terminal; never retry it. A transient
// transport error during the exchange may be retried once by the caller on
// a fresh connection.
func (c *Client) Handshake(ctx context.Context, token, clientInfo string) error {
	switch st := c.State(); st {
	case StateAuthenticating:
	case StateReady:
		return nil
	default:
		return fmt.Errorf("%w: handshake in state %s", ErrNotReady, st)
	}
	params := map[string]string{"token": token, "clientInfo": clientInfo}
	raw, err := c.roundTrip(ctx, "handshake", params)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return &AuthError{Reason: rpcErr.Message}
		}
		return err
	}
	var result struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return &AuthError{Reason: "malformed handshake result"}
	}
	if result.Status != "authenticated" {
		return &AuthError{Reason: fmt.Sprintf("unexpected handshake status %q", result.Status)}
	}
	c.state.CompareAndSwap(int32(StateAuthenticating), int32(StateReady))
	c.log.Debug().Str("client_info", clientInfo).Msg("Handshake complete")
	return nil
}

// Call invokes method and decodes the result into out. A nil out discards
// the result; a null or absent result with non-nil out is treated as
// success with nothing to decode, since several server methods answer null.
func (c *Client) Call(ctx context.Context, method string, params any, out any) error {
	raw, err := c.CallRaw(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("filesipc: decode %s result: %w", method, err)
	}
	return nil
}

// CallRaw is Call returning the undecoded result payload.
func (c *Client) CallRaw(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if st := c.State(); st != StateReady {
		return nil, fmt.Errorf("%w: %s in state %s", ErrNotReady, method, st)
	}
	return c.roundTrip(ctx, method, params)
}

// Notify sends a request without an id. The server treats it as
// fire-and-forget; no response ever comes back.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	if st := c.State(); st != StateReady {
		return fmt.Errorf("%w: %s in state %s", ErrNotReady, method, st)
	}
	data, err := marshalRequest(0, method, params)
	if err != nil {
		return err
	}
	return c.transport.Send(ctx, data)
}

func (c *Client) roundTrip(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}

	id := c.nextID.Add(1)
	data, err := marshalRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	ch, err := c.calls.register(id)
	if err != nil {
		return nil, err
	}

	if err := c.transport.Send(ctx, data); err != nil {
		c.calls.expire(id)
		if errors.Is(err, ErrConnectionClosed) {
			return nil, ErrConnectionClosed
		}
		return nil, fmt.Errorf("filesipc: send %s: %w", method, err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.resp.Error != nil {
			return nil, res.resp.Error
		}
		return res.resp.Result, nil
	case <-ctx.Done():
		// Retire the slot before returning so a late response is discarded
		// instead of lingering for a waiter that no longer exists.
		c.calls.expire(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s (id %d)", ErrCallTimeout, method, id)
		}
		return nil, ctx.Err()
	}
}

func marshalRequest(id int64, method string, params any) ([]byte, error) {
	req := Request{JSONRPC: protocolVersion, ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("filesipc: marshal %s params: %w", method, err)
		}
		req.Params = raw
	}
	return json.Marshal(&req)
}

// Close tears the connection down and fails every outstanding call with
// ErrConnectionClosed. Idempotent and safe from any state.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		if c.transport != nil {
			_ = c.transport.Close()
		}
		c.calls.retireAll(ErrConnectionClosed)
		c.state.Store(int32(StateClosed))
		close(c.done)
	})
	return nil
}

// dispatchLoop is the single receive loop for the connection. It runs until
// the transport reports disconnection, classifying each message as response
// or notification. One malformed document never terminates the session.
func (c *Client) dispatchLoop() {
	ctx := context.Background()
	for {
		data, err := c.transport.Receive(ctx)
		if err != nil {
			var fe *FramingError
			switch {
			case errors.As(err, &fe):
				c.log.Warn().Err(err).Msg("Stream framing broken, closing connection")
			case errors.Is(err, io.EOF):
				c.log.Debug().Msg("Server disconnected")
			default:
				c.log.Debug().Err(err).Msg("Receive failed, closing connection")
			}
			_ = c.Close()
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		// The transport already delivered this as a whole message, so the
		// damage is contained; skip it and keep the connection.
		c.log.Warn().Err(err).Int("size", len(data)).Msg("Ignoring malformed message")
		return
	}
	if env.isNotification() {
		if env.Method == "" {
			c.log.Warn().Msg("Ignoring message with neither id nor method")
			return
		}
		c.deliverNotification(Notification{Method: env.Method, Params: env.Params})
		return
	}
	if !c.calls.resolve(*env.ID, &env) {
		c.log.Debug().Int64("id", *env.ID).Msg("Discarding response with no pending call")
	}
}

func (c *Client) deliverNotification(n Notification) {
	c.notifMu.RLock()
	subs := append([]func(string, json.RawMessage){}, c.notifSubs...)
	c.notifMu.RUnlock()
	for _, fn := range subs {
		fn(n.Method, n.Params)
	}
	for {
		select {
		case c.notifCh <- n:
			return
		default:
		}
		// Sink is full; drop the oldest so a stalled consumer can never
		// stall a pending call.
		select {
		case old := <-c.notifCh:
			c.log.Warn().Str("method", old.Method).Msg("Notification buffer full, dropping oldest")
		default:
		}
	}
}
