// Package mock provides a scriptable transport for tests. Tests drive
// connection events by hand instead of talking to a real endpoint.
package mock

import (
	"context"
	"sync"

	"github.com/collabnotes/collabnotes.go/pkg/transport"
)

// Transport records outbound frames and lets the test fire connection
// events at will.
type Transport struct {
	mu        sync.Mutex
	cb        transport.Callbacks
	url       string
	dialed    bool
	closed    bool
	closeCode int
	sent      [][]byte

	// DialErr, when set, is returned by Dial.
	DialErr error
	// AutoOpen fires OnOpen synchronously from Dial.
	AutoOpen bool
}

var _ transport.Transport = (*Transport)(nil)

func NewTransport() *Transport {
	return &Transport{}
}

func (t *Transport) Dial(_ context.Context, url string, cb transport.Callbacks) error {
	t.mu.Lock()
	t.dialed = true
	t.url = url
	t.cb = cb
	auto := t.AutoOpen
	t.mu.Unlock()

	if t.DialErr != nil {
		return t.DialErr
	}
	if auto {
		t.Open()
	}
	return nil
}

func (t *Transport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return transport.ErrNotConnected
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	t.sent = append(t.sent, buf)
	return nil
}

func (t *Transport) Close(code int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	t.closeCode = code
	return nil
}

// Open simulates the open acknowledgment arriving.
func (t *Transport) Open() {
	if cb := t.callbacks(); cb.OnOpen != nil {
		cb.OnOpen()
	}
}

// Message simulates an inbound frame.
func (t *Transport) Message(data []byte) {
	if cb := t.callbacks(); cb.OnMessage != nil {
		cb.OnMessage(data)
	}
}

// CloseRemote simulates the connection closing from the far side.
func (t *Transport) CloseRemote(code int, reason string) {
	if cb := t.callbacks(); cb.OnClose != nil {
		cb.OnClose(code, reason)
	}
}

// Fail simulates a transport error.
func (t *Transport) Fail(err error) {
	if cb := t.callbacks(); cb.OnError != nil {
		cb.OnError(err)
	}
}

func (t *Transport) callbacks() transport.Callbacks {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cb
}

func (t *Transport) Dialed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dialed
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) CloseCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCode
}

func (t *Transport) URL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url
}

// Sent returns copies of every frame written so far.
func (t *Transport) Sent() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([][]byte, len(t.sent))
	copy(out, t.sent)
	return out
}

// Factory hands out Transports and remembers every one it created, so
// tests can assert on connection counts and reach the active instance.
type Factory struct {
	mu sync.Mutex
	// AutoOpen is copied onto every created Transport.
	AutoOpen bool
	created  []*Transport
}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) New() transport.Transport {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := NewTransport()
	t.AutoOpen = f.AutoOpen
	f.created = append(f.created, t)
	return t
}

// Last returns the most recently created Transport, or nil.
func (f *Factory) Last() *Transport {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

func (f *Factory) Created() []*Transport {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*Transport, len(f.created))
	copy(out, f.created)
	return out
}

// ActiveCount reports how many created transports are dialed and not
// yet closed.
func (f *Factory) ActiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, t := range f.created {
		if t.Dialed() && !t.Closed() {
			n++
		}
	}
	return n
}
