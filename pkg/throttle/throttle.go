// Package throttle batches and rate-limits locally generated events
// before they reach the transport. Each outbound channel keeps at most
// one scheduled send; re-triggering a channel before it fires replaces
// the pending payload, so the last value wins.
package throttle

import (
	"sync"
	"time"

	"github.com/collabnotes/collabnotes.go/internal/clock"
	"github.com/collabnotes/collabnotes.go/pkg/logger"
	"github.com/collabnotes/collabnotes.go/pkg/wire"
)

// Channel is a throttled outbound event category.
type Channel int

const (
	// ChannelCursor coalesces caret moves.
	ChannelCursor Channel = iota
	// ChannelLiveTyping coalesces keystroke broadcasts of the full
	// title/body plus caret.
	ChannelLiveTyping
	// ChannelPersist coalesces durable save requests.
	ChannelPersist
)

func (c Channel) String() string {
	switch c {
	case ChannelCursor:
		return "cursor"
	case ChannelLiveTyping:
		return "live_typing"
	case ChannelPersist:
		return "persist"
	default:
		return "invalid"
	}
}

const (
	DefaultCursorDelay     = 100 * time.Millisecond
	DefaultLiveTypingDelay = 200 * time.Millisecond
	DefaultPersistDelay    = 2 * time.Second

	// DefaultTypingStopAfter is the inactivity window after which a
	// typing_stop is emitted on the user's behalf.
	DefaultTypingStopAfter = 2 * time.Second
)

// Sender delivers a frame to the transport. It is only invoked while
// the session reports itself connected.
type Sender func(f wire.Frame)

type pendingSend struct {
	timer clock.Timer
	frame wire.Frame
}

// Throttler coalesces outbound traffic for one session. Payloads
// scheduled while disconnected are dropped, not queued; the next local
// event re-sends current state anyway.
type Throttler struct {
	clk       clock.Clock
	send      Sender
	connected func() bool
	log       logger.Logger

	delays          map[Channel]time.Duration
	typingStopAfter time.Duration

	mu         sync.Mutex
	pending    map[Channel]*pendingSend
	typing     bool
	typingStop clock.Timer
}

type Option func(*Throttler)

func WithClock(clk clock.Clock) Option {
	return func(t *Throttler) { t.clk = clk }
}

func WithLogger(log logger.Logger) Option {
	return func(t *Throttler) { t.log = log }
}

// WithDelay overrides the cadence of one channel.
func WithDelay(c Channel, d time.Duration) Option {
	return func(t *Throttler) { t.delays[c] = d }
}

func WithTypingStopAfter(d time.Duration) Option {
	return func(t *Throttler) { t.typingStopAfter = d }
}

func New(send Sender, connected func() bool, opts ...Option) *Throttler {
	t := &Throttler{
		clk:       clock.System(),
		send:      send,
		connected: connected,
		log:       logger.Nop(),
		delays: map[Channel]time.Duration{
			ChannelCursor:     DefaultCursorDelay,
			ChannelLiveTyping: DefaultLiveTypingDelay,
			ChannelPersist:    DefaultPersistDelay,
		},
		typingStopAfter: DefaultTypingStopAfter,
		pending:         make(map[Channel]*pendingSend),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Schedule queues frame on the given channel, replacing any payload
// already pending there. Dropped silently when disconnected.
func (t *Throttler) Schedule(c Channel, frame wire.Frame) {
	if !t.connected() {
		t.log.Debug("dropping throttled send while disconnected", "channel", c.String())
		return
	}

	t.mu.Lock()
	if p, ok := t.pending[c]; ok {
		p.timer.Stop()
	}
	p := &pendingSend{frame: frame}
	p.timer = t.clk.AfterFunc(t.delays[c], func() { t.fire(c) })
	t.pending[c] = p
	t.mu.Unlock()
}

func (t *Throttler) fire(c Channel) {
	t.mu.Lock()
	p, ok := t.pending[c]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.pending, c)
	t.mu.Unlock()

	if !t.connected() {
		t.log.Debug("dropping throttled send, connection lost before fire", "channel", c.String())
		return
	}
	t.send(p.frame)
}

// Keystroke records typing activity: the first keystroke after idleness
// emits typing_start immediately, and every keystroke pushes the
// typing_stop deadline out by the inactivity window.
func (t *Throttler) Keystroke() {
	if !t.connected() {
		return
	}

	t.mu.Lock()
	wasTyping := t.typing
	t.typing = true
	if t.typingStop != nil {
		t.typingStop.Stop()
	}
	t.typingStop = t.clk.AfterFunc(t.typingStopAfter, t.autoStopTyping)
	t.mu.Unlock()

	if !wasTyping {
		t.send(wire.NewTypingStart())
	}
}

// Blur stops typing immediately, e.g. when the editor loses focus.
func (t *Throttler) Blur() {
	t.stopTyping()
}

func (t *Throttler) autoStopTyping() {
	t.stopTyping()
}

func (t *Throttler) stopTyping() {
	t.mu.Lock()
	if !t.typing {
		t.mu.Unlock()
		return
	}
	t.typing = false
	if t.typingStop != nil {
		t.typingStop.Stop()
		t.typingStop = nil
	}
	t.mu.Unlock()

	if t.connected() {
		t.send(wire.NewTypingStop())
	}
}

// CancelAll drops every pending payload and typing timer without
// sending anything. Called on session close and on connection loss.
func (t *Throttler) CancelAll() {
	t.mu.Lock()
	for c, p := range t.pending {
		p.timer.Stop()
		delete(t.pending, c)
	}
	if t.typingStop != nil {
		t.typingStop.Stop()
		t.typingStop = nil
	}
	t.typing = false
	t.mu.Unlock()
}
