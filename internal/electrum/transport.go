// Package electrum implements the client side of the Electrum JSON-RPC
// protocol over a persistent socket: newline-delimited request/response
// envelopes correlated by id, plus push-style subscription notifications.
//
// The transport knows nothing about wallet semantics. Reconnection policy is
// the caller's: a closed connection can be re-opened with Connect, but
// requests in flight when the connection drops are never resolved (cancel
// them via their context) and subscriptions are not re-issued automatically.
package electrum

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/lunanimous/keyguard/internal/log"
)

// Transport errors.
var (
	ErrProtocol     = errors.New("protocol error")
	ErrNotConnected = errors.New("not connected")
)

// DefaultKeepAlive is the interval between server.ping requests while open.
const DefaultKeepAlive = 30 * time.Second

// maxMessageSize bounds a single newline-delimited message. Raw transactions
// arrive hex-encoded, so large transactions need generous headroom.
const maxMessageSize = 16 * 1024 * 1024

// State is the connection lifecycle state.
type State int

const (
	Connecting State = iota
	Open
	Closed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler receives push notification parameters for one subscription key.
// Handlers are invoked from the read loop in socket-arrival order and must
// not block; each push carries current state, not a delta.
//
// The initial subscription result is delivered as a single-element params
// slice; subsequent pushes carry the server's notification params verbatim.
type Handler func(params []json.RawMessage)

// Config configures a Conn.
type Config struct {
	// Addr is the host:port of the Electrum server.
	Addr string

	// TLS dials with TLS when true.
	TLS bool

	// TLSSkipVerify skips certificate verification. Most public Electrum
	// servers use self-signed certificates.
	TLSSkipVerify bool

	// KeepAlive is the ping interval. Zero means DefaultKeepAlive.
	KeepAlive time.Duration

	// DialFunc overrides the default TCP/TLS dialer (used by tests and
	// proxies). When nil the Addr/TLS fields drive a standard dial.
	DialFunc func(ctx context.Context) (net.Conn, error)
}

// request is an outgoing JSON-RPC envelope.
type request struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      uint64        `json:"id"`
}

// envelope is an incoming message: either a response ({id, result|error}) or
// a push notification ({method, params}). The two shapes are mutually
// exclusive, so a message takes exactly one dispatch path.
type envelope struct {
	ID     *uint64           `json:"id,omitempty"`
	Method string            `json:"method,omitempty"`
	Params []json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage   `json:"result,omitempty"`
	Error  json.RawMessage   `json:"error,omitempty"`
}

// Conn is a persistent Electrum connection.
type Conn struct {
	cfg Config

	mu      sync.Mutex
	state   State
	conn    net.Conn
	gate    chan struct{} // closed while Open; replaced fresh when the socket drops
	pending map[uint64]chan *envelope
	subs    map[string]Handler
	stopKA  chan struct{}

	writeMu sync.Mutex
}

// New creates a connection in the Connecting state. Call Connect to open the
// socket; requests issued before that queue behind the connected gate.
func New(cfg Config) *Conn {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	return &Conn{
		cfg:     cfg,
		state:   Connecting,
		gate:    make(chan struct{}),
		pending: make(map[uint64]chan *envelope),
		subs:    make(map[string]Handler),
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the socket, releases queued requests and starts the read
// loop and keepalive timer. Calling Connect on an open connection is a no-op.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Open {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.Addr, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = Open
	close(c.gate)
	stop := make(chan struct{})
	c.stopKA = stop
	c.mu.Unlock()

	log.Transport.Info().Str("addr", c.cfg.Addr).Msg("connected")

	go c.readLoop(conn)
	go c.keepAlive(stop)
	return nil
}

func (c *Conn) dial(ctx context.Context) (net.Conn, error) {
	if c.cfg.DialFunc != nil {
		return c.cfg.DialFunc(ctx)
	}
	if c.cfg.TLS {
		d := &tls.Dialer{Config: &tls.Config{InsecureSkipVerify: c.cfg.TLSSkipVerify}}
		return d.DialContext(ctx, "tcp", c.cfg.Addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", c.cfg.Addr)
}

// Close shuts the socket down. The read loop performs the state transition.
func (c *Conn) Close() error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.state = Closed
	}
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Call issues a JSON-RPC request and waits for the matching response.
//
// The request id is allocated randomly and re-rolled until it collides with
// no in-flight id. The call queues behind the connected gate, so it is safe
// to issue before Connect completes. The response resolves the call exactly
// once; a duplicate response with the same id is dropped.
func (c *Conn) Call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	id, ch := c.register()
	defer c.unregister(id)

	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()
	select {
	case <-gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := c.send(request{JSONRPC: "2.0", Method: method, Params: params, ID: id}); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrProtocol, method, string(resp.Error))
		}
		if resp.Result == nil {
			return nil, fmt.Errorf("%w: %s: response missing result", ErrProtocol, method)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe appends ".subscribe" to the method, registers the handler under
// the routing key (method plus first scalar param, if any), issues the
// request and delivers the initial result to the handler as well.
func (c *Conn) Subscribe(ctx context.Context, method string, handler Handler, params ...interface{}) (json.RawMessage, error) {
	full := method + ".subscribe"
	key := requestKey(full, params)

	c.mu.Lock()
	c.subs[key] = handler
	c.mu.Unlock()

	res, err := c.Call(ctx, full, params...)
	if err != nil {
		c.mu.Lock()
		delete(c.subs, key)
		c.mu.Unlock()
		return nil, err
	}

	handler([]json.RawMessage{res})
	return res, nil
}

// Unsubscribe removes the routing entry and issues the ".unsubscribe" call.
func (c *Conn) Unsubscribe(ctx context.Context, method string, params ...interface{}) error {
	key := requestKey(method+".subscribe", params)
	c.mu.Lock()
	delete(c.subs, key)
	c.mu.Unlock()

	_, err := c.Call(ctx, method+".unsubscribe", params...)
	return err
}

// register allocates a collision-free request id and its response channel.
func (c *Conn) register() (uint64, chan *envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		id := uint64(rand.Uint32())
		if _, exists := c.pending[id]; exists {
			continue
		}
		ch := make(chan *envelope, 1)
		c.pending[id] = ch
		return id, ch
	}
}

func (c *Conn) unregister(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Conn) send(req request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = conn.Write(data)
	return err
}

// readLoop decodes newline-delimited messages until the socket drops.
func (c *Conn) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var env envelope
		if err := json.Unmarshal(line, &env); err != nil {
			log.Transport.Error().Err(err).Msg("malformed message")
			continue
		}
		c.dispatch(&env)
	}

	c.markClosed(conn, scanner.Err())
}

// dispatch routes a message down exactly one path: by id to a pending
// request, or by method suffix to a subscription handler.
func (c *Conn) dispatch(env *envelope) {
	if env.ID != nil {
		c.mu.Lock()
		ch, ok := c.pending[*env.ID]
		if ok {
			delete(c.pending, *env.ID)
		}
		c.mu.Unlock()
		if !ok {
			// Duplicate or stale response id: no-op.
			log.Transport.Debug().Uint64("id", *env.ID).Msg("unmatched response id")
			return
		}
		ch <- env
		return
	}

	if !strings.HasSuffix(env.Method, ".subscribe") {
		return
	}
	key := pushKey(env.Method, env.Params)
	c.mu.Lock()
	handler := c.subs[key]
	c.mu.Unlock()
	if handler == nil {
		log.Transport.Debug().Str("key", key).Msg("push for unregistered key dropped")
		return
	}
	// Invoked on the read goroutine: per-key delivery preserves arrival order.
	handler(env.Params)
}

// markClosed transitions to Closed once the socket drops. Pending requests
// are intentionally left unresolved (see package docs); new requests block
// behind a fresh gate until the caller reconnects.
func (c *Conn) markClosed(conn net.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// A stale read loop from an earlier socket.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = Closed
	c.gate = make(chan struct{})
	if c.stopKA != nil {
		close(c.stopKA)
		c.stopKA = nil
	}
	c.mu.Unlock()

	conn.Close()
	log.Transport.Warn().Err(err).Str("addr", c.cfg.Addr).Msg("connection closed")
}

// keepAlive pings the server at the configured interval while open.
func (c *Conn) keepAlive(stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_, err := c.Call(ctx, "server.ping")
			cancel()
			if err != nil {
				log.Transport.Warn().Err(err).Msg("keepalive ping failed")
			}
		case <-stop:
			return
		}
	}
}

// requestKey computes the routing key for an outgoing subscription:
// the full method name plus its first scalar parameter, if any.
func requestKey(method string, params []interface{}) string {
	if len(params) > 0 {
		switch v := params[0].(type) {
		case string:
			return method + ":" + v
		case int, int32, int64, uint32, uint64, float64:
			return fmt.Sprintf("%s:%v", method, v)
		}
	}
	return method
}

// pushKey recomputes the routing key from an incoming push notification, so
// it matches requestKey for the same method and scalar.
func pushKey(method string, params []json.RawMessage) string {
	if len(params) > 0 {
		var s string
		if err := json.Unmarshal(params[0], &s); err == nil {
			return method + ":" + s
		}
		var n json.Number
		if err := json.Unmarshal(params[0], &n); err == nil {
			return method + ":" + n.String()
		}
	}
	return method
}
