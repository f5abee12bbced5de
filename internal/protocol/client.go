// Package protocol implements the client side of the JSON command protocol
// spoken with the recording service: many concurrent commands multiplexed
// over one connection, gated by an authentication barrier, plus
// unsolicited events fanned out to listeners.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/replaykit/internal/settle"
)

// DefaultTimeout bounds how long a command waits for its response.
const DefaultTimeout = 60 * time.Second

// Listener receives events registered under one method name.
type Listener func(Event)

type pendingCall struct {
	method string
	cell   *settle.Cell[json.RawMessage]
}

type listener struct {
	fn Listener
}

// Client multiplexes commands over a Transport.
type Client struct {
	t       Transport
	logger  *slog.Logger
	timeout time.Duration

	nextID atomic.Int64
	sendMu sync.Mutex

	mu        sync.Mutex
	state     State
	pending   map[int64]*pendingCall
	listeners map[string][]*listener

	evMu   sync.Mutex
	events []Event
	wake   chan struct{}

	auth *settle.Cell[struct{}]
	done chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-command response timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New wraps an open transport and starts reading from it.
func New(t Transport, opts ...Option) *Client {
	c := &Client{
		t:         t,
		logger:    slog.Default(),
		timeout:   DefaultTimeout,
		state:     StateConnecting,
		pending:   make(map[int64]*pendingCall),
		listeners: make(map[string][]*listener),
		wake:      make(chan struct{}, 1),
		auth:      settle.New[struct{}](),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	go c.readLoop()
	go c.eventLoop()
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the read loop exits.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Authenticate sends the access token and opens the authentication barrier.
// A failed authentication rejects the barrier, so every waiting and future
// command fails with the same error.
func (c *Client) Authenticate(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.state == StateConnecting {
		c.state = StateAuthenticating
	}
	c.mu.Unlock()

	_, err := c.call(ctx, AuthMethod, map[string]string{"accessToken": token}, "")
	if err != nil {
		c.auth.Reject(fmt.Errorf("authenticate: %w", err))
		return err
	}

	c.mu.Lock()
	if c.state == StateAuthenticating {
		c.state = StateAuthenticated
	}
	c.mu.Unlock()
	c.auth.Resolve(struct{}{})
	c.logger.Debug("authenticated")
	return nil
}

// WaitUntilAuthenticated blocks until authentication has completed. It
// returns immediately once the barrier has settled.
func (c *Client) WaitUntilAuthenticated(ctx context.Context) error {
	_, err := c.auth.Wait(ctx)
	return err
}

// SendCommand sends method with params and waits for its response. Every
// method except AuthMethod waits for authentication first.
func (c *Client) SendCommand(ctx context.Context, method string, params any, sessionID string) (json.RawMessage, error) {
	if method != AuthMethod {
		if err := c.WaitUntilAuthenticated(ctx); err != nil {
			return nil, err
		}
	}
	return c.call(ctx, method, params, sessionID)
}

func (c *Client) call(ctx context.Context, method string, params any, sessionID string) (json.RawMessage, error) {
	if params == nil {
		params = struct{}{}
	}
	id := c.nextID.Add(1)
	data, err := json.Marshal(Request{ID: id, Method: method, Params: params, SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}

	p := &pendingCall{method: method, cell: settle.New[json.RawMessage]()}
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateError {
		state := c.state
		c.mu.Unlock()
		return nil, &ConnectionError{Err: fmt.Errorf("client is %s", state)}
	}
	c.pending[id] = p
	c.mu.Unlock()

	c.sendMu.Lock()
	err = c.t.Send(data)
	c.sendMu.Unlock()
	if err != nil {
		c.remove(id)
		return nil, &ConnectionError{Err: err}
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-p.cell.Done():
		return p.cell.Result()
	case <-timer.C:
		c.remove(id)
		return nil, &TimeoutError{Method: method, ID: id}
	case <-ctx.Done():
		c.remove(id)
		return nil, ctx.Err()
	}
}

func (c *Client) remove(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// On registers fn for events named method. Listeners run in registration
// order on a single event goroutine, separate from the read loop, so a
// listener may issue commands of its own. The returned func unregisters fn.
func (c *Client) On(method string, fn Listener) func() {
	l := &listener{fn: fn}
	c.mu.Lock()
	c.listeners[method] = append(c.listeners[method], l)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		list := c.listeners[method]
		for i, x := range list {
			if x == l {
				c.listeners[method] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(c.listeners[method]) == 0 {
			delete(c.listeners, method)
		}
	}
}

// Close closes the transport and rejects every pending command.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	c.mu.Unlock()

	err := c.t.Close()
	c.rejectAll(&ConnectionError{Err: ErrClosed})
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		data, err := c.t.Read()
		if err != nil {
			c.fail(err)
			return
		}
		c.dispatch(data)
	}
}

// fail moves the client to the error state after a transport failure.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateError
	c.mu.Unlock()

	c.logger.Warn("protocol connection failed", "error", err)
	c.rejectAll(&ConnectionError{Err: err})
}

func (c *Client) rejectAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]*pendingCall)
	c.mu.Unlock()

	for _, p := range pending {
		p.cell.Reject(err)
	}
	c.auth.Reject(err)
}

func (c *Client) dispatch(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Warn("dropping undecodable frame", "error", err)
		return
	}

	if f.ID == nil {
		if f.Method == "" {
			c.logger.Warn("dropping frame with neither id nor method")
			return
		}
		c.enqueue(Event{Method: f.Method, Params: f.Params, SessionID: f.SessionID})
		return
	}

	c.mu.Lock()
	p, ok := c.pending[*f.ID]
	delete(c.pending, *f.ID)
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("response for unknown command", "id", *f.ID)
		return
	}

	if f.Error != nil {
		p.cell.Reject(&ProtocolError{Method: p.method, Code: f.Error.Code, Message: f.Error.Message})
		return
	}
	p.cell.Resolve(f.Result)
}

// enqueue hands ev to the event goroutine without waiting on listeners.
func (c *Client) enqueue(ev Event) {
	c.evMu.Lock()
	c.events = append(c.events, ev)
	c.evMu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// eventLoop delivers queued events in arrival order. Events read before
// the connection ended are still delivered.
func (c *Client) eventLoop() {
	for {
		select {
		case <-c.wake:
		case <-c.done:
			c.drainEvents()
			return
		}
		c.drainEvents()
	}
}

func (c *Client) drainEvents() {
	for {
		c.evMu.Lock()
		if len(c.events) == 0 {
			c.evMu.Unlock()
			return
		}
		ev := c.events[0]
		c.events[0] = Event{}
		c.events = c.events[1:]
		c.evMu.Unlock()
		c.emit(ev)
	}
}

func (c *Client) emit(ev Event) {
	c.mu.Lock()
	list := append([]*listener(nil), c.listeners[ev.Method]...)
	c.mu.Unlock()

	for _, l := range list {
		c.invoke(l, ev)
	}
}

func (c *Client) invoke(l *listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event listener panicked", "method", ev.Method, "panic", r)
		}
	}()
	l.fn(ev)
}

// IsConnectionError reports whether err came from a lost or closed
// connection.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
