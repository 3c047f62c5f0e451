// Package protocol is the request/response client for the automation server.
// A single background loop reads every line the server writes and completes
// the pending request with the matching correlation id, so any number of
// callers may have requests outstanding at once.
package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/softwarewrighter/ui-test/pkg/wire"
)

var (
	// ErrTimeout is returned when a request's context expires before the
	// response arrives. The connection stays usable.
	ErrTimeout = errors.New("protocol: request timed out")

	// ErrConnectionClosed is returned for every pending and later request
	// once the server's output stream ends or a write fails.
	ErrConnectionClosed = errors.New("protocol: connection closed")
)

// State is the connection state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Ready
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// DefaultRequestTimeout bounds a request whose context has no deadline.
const DefaultRequestTimeout = 30 * time.Second

const maxLineSize = 32 * 1024 * 1024

type slot struct {
	result json.RawMessage
	err    error
}

// Client talks to one automation server over a writer/reader pair.
type Client struct {
	w      io.WriteCloser
	r      io.Reader
	logger *log.Logger

	requestTimeout time.Duration
	clientName     string
	clientVersion  string

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan slot

	reqCounter  atomic.Uint64
	state       atomic.Int32
	codecErrors atomic.Int64

	done        chan struct{}
	doneOnce    sync.Once
	terminalErr error // set before done is closed
	readerDone  chan struct{}

	toolsMu    sync.RWMutex
	tools      map[string]bool
	serverName string
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. The default discards.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRequestTimeout sets the timeout applied to requests whose context has
// no deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

// WithClientInfo sets the name and version sent in the initialize request.
func WithClientInfo(name, version string) Option {
	return func(c *Client) {
		c.clientName = name
		c.clientVersion = version
	}
}

// New starts the read loop over r and returns a client in the Connecting
// state. The client is the sole reader of r.
func New(w io.WriteCloser, r io.Reader, opts ...Option) *Client {
	c := &Client{
		w:              w,
		r:              r,
		logger:         log.New(io.Discard),
		requestTimeout: DefaultRequestTimeout,
		clientName:     "ui-test",
		clientVersion:  "dev",
		pending:        map[string]chan slot{},
		done:           make(chan struct{}),
		readerDone:     make(chan struct{}),
		tools:          map[string]bool{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "protocol")
	c.state.Store(int32(Connecting))
	go c.readLoop()
	return c
}

// State returns the current connection state.
func (c *Client) State() State { return State(c.state.Load()) }

// InFlight returns the number of requests awaiting a response.
func (c *Client) InFlight() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

// CodecErrors returns how many malformed lines have been discarded.
func (c *Client) CodecErrors() int64 { return c.codecErrors.Load() }

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the reason the connection ended, or nil while it is up.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.terminalErr
	default:
		return nil
	}
}

// Call sends cmd and waits for its result.
func (c *Client) Call(ctx context.Context, cmd wire.Command) (wire.Payload, error) {
	id := c.nextID()
	line, err := wire.Encode(id, cmd)
	if err != nil {
		return wire.Payload{}, err
	}
	raw, err := c.roundTrip(ctx, id, line)
	if err != nil {
		return wire.Payload{}, fmt.Errorf("%s: %w", wire.Describe(cmd), err)
	}
	if _, err := wire.ToolResult(raw); err != nil {
		return wire.Payload{}, fmt.Errorf("%s: %w", wire.Describe(cmd), err)
	}
	return wire.Payload{Raw: raw}, nil
}

// Request sends an arbitrary JSON-RPC request and returns the raw result.
func (c *Client) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID()
	line, err := wire.EncodeRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	raw, err := c.roundTrip(ctx, id, line)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return raw, nil
}

// Notify sends a JSON-RPC notification.
func (c *Client) Notify(method string, params any) error {
	line, err := wire.EncodeNotification(method, params)
	if err != nil {
		return err
	}
	return c.write(line)
}

func (c *Client) nextID() string {
	return strconv.FormatUint(c.reqCounter.Add(1), 10)
}

func (c *Client) roundTrip(ctx context.Context, id string, line []byte) (json.RawMessage, error) {
	if _, ok := ctx.Deadline(); !ok && c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	ch := make(chan slot, 1)
	c.pendingMu.Lock()
	select {
	case <-c.done:
		c.pendingMu.Unlock()
		return nil, c.closedErr()
	default:
	}
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.write(line); err != nil {
		c.forget(id)
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return nil, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	case s := <-ch:
		if s.err != nil {
			return nil, s.err
		}
		return s.result, nil
	}
}

func (c *Client) forget(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Client) write(line []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.w.Write(line); err != nil {
		werr := fmt.Errorf("%w: write: %v", ErrConnectionClosed, err)
		c.signalDone(werr)
		return werr
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.readerDone)
	scanner := bufio.NewScanner(c.r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp, err := wire.Decode(line)
		if err != nil {
			c.codecErrors.Add(1)
			c.logger.Warn("discarding malformed line", "err", err)
			continue
		}
		if resp.Method != "" {
			c.logger.Debug("server message", "method", resp.Method, "id", resp.ID)
			continue
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.pendingMu.Unlock()
		if !ok {
			c.logger.Debug("response for unknown request", "id", resp.ID)
			continue
		}
		if resp.Err != nil {
			ch <- slot{err: resp.Err}
			continue
		}
		ch <- slot{result: resp.Result}
	}

	if err := scanner.Err(); err != nil {
		c.signalDone(fmt.Errorf("%w: read: %v", ErrConnectionClosed, err))
		return
	}
	c.signalDone(fmt.Errorf("%w: server output ended", ErrConnectionClosed))
}

// signalDone fails every pending request and marks the client disconnected.
func (c *Client) signalDone(err error) {
	c.doneOnce.Do(func() {
		c.terminalErr = err
		c.state.Store(int32(Disconnected))

		// done is closed under pendingMu, before any slot is failed, so a
		// woken caller always observes the connection as gone and no request
		// can register after the pending set has been failed.
		c.pendingMu.Lock()
		close(c.done)
		for id, ch := range c.pending {
			delete(c.pending, id)
			ch <- slot{err: err}
		}
		c.pendingMu.Unlock()

		c.logger.Debug("connection closed", "err", err)
	})
}

func (c *Client) closedErr() error {
	if c.terminalErr != nil {
		return c.terminalErr
	}
	return ErrConnectionClosed
}

// Close closes the writer, fails pending requests with ErrConnectionClosed,
// and waits until ctx expires for the server's output to end.
func (c *Client) Close(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	default:
	}
	c.state.Store(int32(Disconnecting))

	c.writeMu.Lock()
	err := c.w.Close()
	c.writeMu.Unlock()

	c.signalDone(fmt.Errorf("%w: client closed", ErrConnectionClosed))

	select {
	case <-c.readerDone:
	case <-ctx.Done():
	}
	if err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}
