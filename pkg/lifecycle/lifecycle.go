// Package lifecycle drives the connect/disconnect/reconnect state
// machine for one collaboration session. It owns the retry policy and
// guarantees that at most one transport is active at any instant.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/collabnotes/collabnotes.go/internal/clock"
	"github.com/collabnotes/collabnotes.go/pkg/logger"
	"github.com/collabnotes/collabnotes.go/pkg/transport"
)

const (
	// DefaultRetryInterval is the flat delay between reconnection
	// attempts. The backoff is deliberately constant, not exponential.
	DefaultRetryInterval = 3 * time.Second

	// DefaultMaxAttempts bounds consecutive non-manual closures before
	// the manager gives up and becomes errored.
	DefaultMaxAttempts = 5

	// DefaultOpenTimeout bounds the wait for the open acknowledgment.
	DefaultOpenTimeout = 10 * time.Second
)

var (
	ErrAlreadyOpened    = errors.New("lifecycle: manager was already opened")
	ErrNotConnected     = errors.New("lifecycle: not connected")
	ErrRetriesExhausted = errors.New("lifecycle: reconnection attempts exhausted")
	ErrConnectTimeout   = errors.New("lifecycle: timed out waiting for open acknowledgment")
)

// Events are the notifications a Manager emits. All callbacks are
// invoked without internal locks held. OnOpen fires on every successful
// open, including reopens after a reconnect, so the coordinator can
// re-issue its join request each time.
type Events struct {
	OnStateChange func(State)
	OnOpen        func()
	OnMessage     func(data []byte)
	OnTerminal    func(err error)
}

// Manager is a single-use connection lifecycle driver: Open once,
// Close once. Reconnection in between is automatic.
type Manager struct {
	factory     transport.Factory
	clk         clock.Clock
	policy      backoff.BackOff
	maxAttempts int
	openTimeout time.Duration
	log         logger.Logger
	events      Events

	mu         sync.Mutex
	state      State
	tr         transport.Transport
	url        string
	ctx        context.Context
	gen        int
	failures   int
	retryTimer clock.Timer
	openTimer  clock.Timer
}

type Option func(*Manager)

func WithClock(clk clock.Clock) Option {
	return func(m *Manager) { m.clk = clk }
}

func WithLogger(log logger.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithRetryPolicy overrides the flat-delay policy. The policy is only
// consulted for delays; attempt counting is bounded by WithMaxAttempts.
func WithRetryPolicy(policy backoff.BackOff) Option {
	return func(m *Manager) { m.policy = policy }
}

func WithMaxAttempts(n int) Option {
	return func(m *Manager) { m.maxAttempts = n }
}

func WithOpenTimeout(d time.Duration) Option {
	return func(m *Manager) { m.openTimeout = d }
}

func New(factory transport.Factory, events Events, opts ...Option) *Manager {
	m := &Manager{
		factory:     factory,
		clk:         clock.System(),
		policy:      backoff.NewConstantBackOff(DefaultRetryInterval),
		maxAttempts: DefaultMaxAttempts,
		openTimeout: DefaultOpenTimeout,
		log:         logger.Nop(),
		events:      events,
		state:       StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Open dials the collaboration endpoint. It returns immediately; the
// outcome is reported through Events.
func (m *Manager) Open(ctx context.Context, url string) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrAlreadyOpened
	}
	m.url = url
	m.ctx = ctx
	if err := m.transitionLocked(StateConnecting); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	m.emitStateChange(StateConnecting)
	m.dial()
	return nil
}

// Send writes one frame if connected, otherwise returns ErrNotConnected.
// Callers that throttle treat that as "drop silently".
func (m *Manager) Send(data []byte) error {
	m.mu.Lock()
	if m.state != StateConnected || m.tr == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	tr := m.tr
	m.mu.Unlock()

	return tr.Send(data)
}

// Close cancels pending timers, closes any active transport with the
// manual close code and moves to StateClosed. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	m.cancelTimersLocked()
	tr := m.tr
	m.tr = nil
	m.gen++ // invalidate any in-flight transport callbacks
	_ = m.transitionLocked(StateClosed)
	m.mu.Unlock()

	if tr != nil {
		if err := tr.Close(transport.CloseNormal); err != nil {
			m.log.Debug("transport close failed", "error", err)
		}
	}
	m.emitStateChange(StateClosed)
	return nil
}

func (m *Manager) dial() {
	m.mu.Lock()
	if m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	m.gen++
	gen := m.gen
	tr := m.factory()
	m.tr = tr
	ctx := m.ctx
	url := m.url
	m.openTimer = m.clk.AfterFunc(m.openTimeout, func() { m.onOpenTimeout(gen) })
	m.mu.Unlock()

	cb := transport.Callbacks{
		OnOpen:    func() { m.onOpen(gen) },
		OnMessage: func(data []byte) { m.onMessage(gen, data) },
		OnClose:   func(code int, reason string) { m.onClose(gen, code, reason) },
		OnError:   func(err error) { m.onError(gen, err) },
	}
	if err := tr.Dial(ctx, url, cb); err != nil {
		m.log.Warn("dial failed", "error", err)
		m.onClose(gen, -1, err.Error())
	}
}

func (m *Manager) onOpen(gen int) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	m.stopOpenTimerLocked()
	m.failures = 0
	m.policy.Reset()
	_ = m.transitionLocked(StateConnected)
	m.mu.Unlock()

	m.log.Info("connection established")
	m.emitStateChange(StateConnected)
	if m.events.OnOpen != nil {
		m.events.OnOpen()
	}
}

func (m *Manager) onMessage(gen int, data []byte) {
	m.mu.Lock()
	stale := gen != m.gen || m.state != StateConnected
	m.mu.Unlock()

	if stale {
		return
	}
	if m.events.OnMessage != nil {
		m.events.OnMessage(data)
	}
}

func (m *Manager) onError(gen int, err error) {
	m.mu.Lock()
	stale := gen != m.gen
	m.mu.Unlock()

	if !stale {
		m.log.Warn("transport error", "error", err)
	}
}

func (m *Manager) onClose(gen int, code int, reason string) {
	m.mu.Lock()
	if gen != m.gen || m.state == StateClosed || m.state == StateErrored {
		m.mu.Unlock()
		return
	}

	if code == transport.CloseNormal {
		// Manual or server-initiated graceful close; no retry.
		m.cancelTimersLocked()
		tr := m.tr
		m.tr = nil
		_ = m.transitionLocked(StateClosed)
		m.mu.Unlock()

		if tr != nil {
			_ = tr.Close(transport.CloseNormal)
		}
		m.log.Info("connection closed", "code", code, "reason", reason)
		m.emitStateChange(StateClosed)
		return
	}

	m.log.Warn("connection lost", "code", code, "reason", reason)
	m.scheduleRetryLocked()
}

// scheduleRetryLocked is entered with m.mu held and releases it.
func (m *Manager) scheduleRetryLocked() {
	m.stopOpenTimerLocked()
	if m.tr != nil {
		tr := m.tr
		m.tr = nil
		// The old transport must be fully torn down before a new
		// attempt starts; its callbacks are already invalidated by
		// generation checks.
		_ = tr.Close(transport.CloseNormal)
	}

	m.failures++
	if m.failures >= m.maxAttempts {
		_ = m.transitionLocked(StateErrored)
		m.mu.Unlock()

		m.log.Error("reconnection attempts exhausted", "attempts", m.failures)
		m.emitStateChange(StateErrored)
		if m.events.OnTerminal != nil {
			m.events.OnTerminal(ErrRetriesExhausted)
		}
		return
	}

	delay := m.policy.NextBackOff()
	if delay == backoff.Stop {
		delay = DefaultRetryInterval
	}
	_ = m.transitionLocked(StateReconnecting)
	m.retryTimer = m.clk.AfterFunc(delay, m.retry)
	attempt := m.failures
	m.mu.Unlock()

	m.log.Info("scheduling reconnect", "attempt", attempt, "max_attempts", m.maxAttempts, "delay", delay)
	m.emitStateChange(StateReconnecting)
}

func (m *Manager) retry() {
	m.mu.Lock()
	if m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	_ = m.transitionLocked(StateConnecting)
	m.mu.Unlock()

	m.emitStateChange(StateConnecting)
	m.dial()
}

func (m *Manager) onOpenTimeout(gen int) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	m.openTimer = nil
	m.log.Warn("open acknowledgment timed out", "timeout", m.openTimeout)
	m.scheduleRetryLocked()
}

func (m *Manager) transitionLocked(newState State) error {
	if err := m.state.validateTransitionTo(newState); err != nil {
		m.log.Error("refusing state transition", "error", err)
		return err
	}
	m.log.Debug("state transition", "from", m.state.String(), "to", newState.String())
	m.state = newState
	return nil
}

func (m *Manager) cancelTimersLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.stopOpenTimerLocked()
}

func (m *Manager) stopOpenTimerLocked() {
	if m.openTimer != nil {
		m.openTimer.Stop()
		m.openTimer = nil
	}
}

func (m *Manager) emitStateChange(s State) {
	if m.events.OnStateChange != nil {
		m.events.OnStateChange(s)
	}
}
