// Package gorillaws implements the transport contract on top of
// gorilla/websocket.
package gorillaws

import (
	"context"
	"errors"
	"sync"

	gorilla "github.com/gorilla/websocket"

	"github.com/collabnotes/collabnotes.go/pkg/logger"
	"github.com/collabnotes/collabnotes.go/pkg/transport"
)

// DefaultDialer is the default gorilla dialer used by Conn.
//
// It matches the gorilla default dialer except that compression is
// enabled, since note bodies are highly compressible text.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
}

// Conn is a one-shot websocket connection. After Close it cannot be
// redialed; construct a new Conn instead.
type Conn struct {
	dialer *gorilla.Dialer
	log    logger.Logger

	mu        sync.Mutex
	conn      *gorilla.Conn
	cb        transport.Callbacks
	dialed    bool
	closed    bool
	localCode int
}

var _ transport.Transport = (*Conn)(nil)

type Option func(*Conn)

// WithDialer overrides DefaultDialer.
func WithDialer(d *gorilla.Dialer) Option {
	return func(c *Conn) { c.dialer = d }
}

// WithLogger overrides the no-op default logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Conn) { c.log = log }
}

func New(opts ...Option) *Conn {
	c := &Conn{
		dialer: DefaultDialer,
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Factory returns a transport.Factory producing fresh Conns with the
// given options.
func Factory(opts ...Option) transport.Factory {
	return func() transport.Transport {
		return New(opts...)
	}
}

// Dial starts the websocket handshake in the background. The outcome is
// reported through cb: OnOpen on success, OnError plus OnClose on
// failure.
func (c *Conn) Dial(ctx context.Context, url string, cb transport.Callbacks) error {
	c.mu.Lock()
	if c.dialed {
		c.mu.Unlock()
		return transport.ErrAlreadyDialed
	}
	c.dialed = true
	c.cb = cb
	c.mu.Unlock()

	go c.dial(ctx, url)
	return nil
}

func (c *Conn) dial(ctx context.Context, url string) {
	conn, res, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		c.log.Debug("websocket dial failed", "error", err)
		c.emitError(err)
		c.emitClose(gorilla.CloseAbnormalClosure, err.Error())
		return
	}
	res.Body.Close()

	c.mu.Lock()
	if c.closed {
		// Close raced the handshake; the connection was never surfaced.
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	if c.cb.OnOpen != nil {
		c.cb.OnOpen()
	}
	c.readLoop(conn)
}

// readLoop delivers inbound frames one at a time, preserving arrival
// order, until the connection dies.
func (c *Conn) readLoop(conn *gorilla.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			local := c.localCode
			c.mu.Unlock()

			switch {
			case local != 0:
				c.emitClose(local, "closed by client")
			case gorilla.IsCloseError(err, gorilla.CloseNormalClosure):
				c.emitClose(gorilla.CloseNormalClosure, "closed by server")
			default:
				code := gorilla.CloseAbnormalClosure
				reason := err.Error()
				var ce *gorilla.CloseError
				if errors.As(err, &ce) {
					code = ce.Code
					reason = ce.Text
				} else {
					c.emitError(err)
				}
				c.emitClose(code, reason)
			}
			return
		}

		if c.cb.OnMessage != nil {
			c.cb.OnMessage(data)
		}
	}
}

func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.closed {
		return transport.ErrNotConnected
	}
	return c.conn.WriteMessage(gorilla.TextMessage, data)
}

// Close sends a close frame with the given code and tears down the
// connection. Safe to call while a dial is still in flight.
func (c *Conn) Close(code int) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.localCode = code
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	if err := conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(code, "")); err != nil {
		// Best effort; still close locally so resources are released.
		c.log.Debug("failed to write close message", "error", err)
	}
	return conn.Close()
}

func (c *Conn) emitError(err error) {
	if c.cb.OnError != nil {
		c.cb.OnError(err)
	}
}

func (c *Conn) emitClose(code int, reason string) {
	if c.cb.OnClose != nil {
		c.cb.OnClose(code, reason)
	}
}
