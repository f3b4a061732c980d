package lifecycle

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabnotes/collabnotes.go/internal/clock"
	"github.com/collabnotes/collabnotes.go/internal/mock"
)

type recorder struct {
	states   []State
	opens    int
	terminal error
	messages [][]byte
}

func newManagerForTest(t *testing.T, opts ...Option) (*Manager, *mock.Factory, *clock.Fake, *recorder) {
	t.Helper()

	factory := mock.NewFactory()
	clk := clock.NewFake()
	rec := &recorder{}

	events := Events{
		OnStateChange: func(s State) { rec.states = append(rec.states, s) },
		OnOpen:        func() { rec.opens++ },
		OnMessage:     func(data []byte) { rec.messages = append(rec.messages, data) },
		OnTerminal:    func(err error) { rec.terminal = err },
	}

	opts = append([]Option{WithClock(clk)}, opts...)
	m := New(factory.New, events, opts...)
	return m, factory, clk, rec
}

func TestOpenConnectsOnAcknowledgment(t *testing.T) {
	m, factory, _, rec := newManagerForTest(t)

	require.NoError(t, m.Open(context.Background(), "ws://host/ws/notes/n1?token=tok"))
	assert.Equal(t, StateConnecting, m.State())

	tr := factory.Last()
	require.NotNil(t, tr)
	assert.True(t, tr.Dialed())
	assert.Equal(t, "ws://host/ws/notes/n1?token=tok", tr.URL())

	tr.Open()
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, 1, rec.opens)
	assert.Equal(t, []State{StateConnecting, StateConnected}, rec.states)
}

func TestOpenTwiceFails(t *testing.T) {
	m, _, _, _ := newManagerForTest(t)

	require.NoError(t, m.Open(context.Background(), "ws://host"))
	assert.ErrorIs(t, m.Open(context.Background(), "ws://host"), ErrAlreadyOpened)
}

func TestSendRequiresConnected(t *testing.T) {
	m, factory, _, _ := newManagerForTest(t)

	assert.ErrorIs(t, m.Send([]byte("x")), ErrNotConnected)

	require.NoError(t, m.Open(context.Background(), "ws://host"))
	assert.ErrorIs(t, m.Send([]byte("x")), ErrNotConnected)

	factory.Last().Open()
	require.NoError(t, m.Send([]byte(`{"type":"join_note"}`)))
	assert.Len(t, factory.Last().Sent(), 1)
}

func TestNonManualCloseTriggersFlatDelayReconnect(t *testing.T) {
	m, factory, clk, rec := newManagerForTest(t)

	require.NoError(t, m.Open(context.Background(), "ws://host"))
	first := factory.Last()
	first.Open()

	first.CloseRemote(1006, "gone")
	assert.Equal(t, StateReconnecting, m.State())
	assert.True(t, first.Closed())

	// Nothing happens before the flat retry delay elapses.
	clk.Advance(DefaultRetryInterval - time.Millisecond)
	assert.Len(t, factory.Created(), 1)

	clk.Advance(time.Millisecond)
	require.Len(t, factory.Created(), 2)
	assert.Equal(t, StateConnecting, m.State())

	second := factory.Last()
	second.Open()
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, 2, rec.opens)
	assert.Equal(t, []State{
		StateConnecting, StateConnected,
		StateReconnecting, StateConnecting, StateConnected,
	}, rec.states)
}

func TestRetryCounterResetsOnSuccessfulOpen(t *testing.T) {
	m, factory, clk, rec := newManagerForTest(t, WithMaxAttempts(2))

	require.NoError(t, m.Open(context.Background(), "ws://host"))
	factory.Last().Open()

	// One failure, then a successful reconnect.
	factory.Last().CloseRemote(1006, "gone")
	clk.Advance(DefaultRetryInterval)
	factory.Last().Open()
	require.Equal(t, StateConnected, m.State())

	// The budget is full again: a single new failure must reconnect,
	// not error out.
	factory.Last().CloseRemote(1006, "gone again")
	assert.Equal(t, StateReconnecting, m.State())
	assert.NoError(t, rec.terminal)
}

func TestErroredAfterMaxAttemptsExactly(t *testing.T) {
	m, factory, clk, rec := newManagerForTest(t)

	require.NoError(t, m.Open(context.Background(), "ws://host"))
	factory.Last().Open()

	for i := 0; i < DefaultMaxAttempts-1; i++ {
		factory.Last().CloseRemote(1006, "fault")
		require.Equal(t, StateReconnecting, m.State(), "closure %d", i+1)
		clk.Advance(DefaultRetryInterval)
		require.Equal(t, StateConnecting, m.State())
	}

	// The maxAttempts-th consecutive closure exhausts the budget.
	factory.Last().CloseRemote(1006, "fault")
	assert.Equal(t, StateErrored, m.State())
	assert.ErrorIs(t, rec.terminal, ErrRetriesExhausted)

	created := len(factory.Created())
	clk.Advance(time.Minute)
	assert.Len(t, factory.Created(), created, "no further retries after errored")
	assert.Equal(t, 0, factory.ActiveCount())
}

func TestOpenTimeoutIsATransportFault(t *testing.T) {
	m, factory, clk, _ := newManagerForTest(t)

	require.NoError(t, m.Open(context.Background(), "ws://host"))
	require.Equal(t, StateConnecting, m.State())

	clk.Advance(DefaultOpenTimeout)
	assert.Equal(t, StateReconnecting, m.State())
	assert.True(t, factory.Created()[0].Closed())

	clk.Advance(DefaultRetryInterval)
	require.Len(t, factory.Created(), 2)
	factory.Last().Open()
	assert.Equal(t, StateConnected, m.State())
}

func TestManualCloseIsTerminal(t *testing.T) {
	m, factory, clk, _ := newManagerForTest(t)

	require.NoError(t, m.Open(context.Background(), "ws://host"))
	tr := factory.Last()
	tr.Open()

	require.NoError(t, m.Close())
	assert.Equal(t, StateClosed, m.State())
	assert.True(t, tr.Closed())
	assert.Equal(t, 1000, tr.CloseCode())

	// A late close event from the transport must not resurrect anything.
	tr.CloseRemote(1006, "late")
	clk.Advance(time.Minute)
	assert.Equal(t, StateClosed, m.State())
	assert.Len(t, factory.Created(), 1)

	assert.NoError(t, m.Close())
}

func TestRemoteNormalCloseDoesNotRetry(t *testing.T) {
	m, factory, clk, _ := newManagerForTest(t)

	require.NoError(t, m.Open(context.Background(), "ws://host"))
	factory.Last().Open()

	factory.Last().CloseRemote(1000, "bye")
	assert.Equal(t, StateClosed, m.State())

	clk.Advance(time.Minute)
	assert.Len(t, factory.Created(), 1)
}

func TestCloseDuringReconnectCancelsRetryTimer(t *testing.T) {
	m, factory, clk, _ := newManagerForTest(t)

	require.NoError(t, m.Open(context.Background(), "ws://host"))
	factory.Last().Open()
	factory.Last().CloseRemote(1006, "fault")
	require.Equal(t, StateReconnecting, m.State())

	require.NoError(t, m.Close())
	clk.Advance(time.Minute)
	assert.Len(t, factory.Created(), 1)
	assert.Equal(t, StateClosed, m.State())
}

func TestStaleTransportEventsAreIgnored(t *testing.T) {
	m, factory, clk, rec := newManagerForTest(t)

	require.NoError(t, m.Open(context.Background(), "ws://host"))
	first := factory.Last()
	first.Open()
	first.CloseRemote(1006, "fault")
	clk.Advance(DefaultRetryInterval)

	second := factory.Last()
	require.NotSame(t, first, second)
	second.Open()
	require.Equal(t, StateConnected, m.State())

	// Events from the torn-down transport must not disturb the session.
	first.CloseRemote(1006, "zombie")
	first.Message([]byte(`{"type":"error"}`))
	assert.Equal(t, StateConnected, m.State())
	assert.Empty(t, rec.messages)

	second.Message([]byte(`{"type":"joined"}`))
	assert.Len(t, rec.messages, 1)
}

func TestMessagesOnlyDeliveredWhileConnected(t *testing.T) {
	m, factory, _, rec := newManagerForTest(t)

	require.NoError(t, m.Open(context.Background(), "ws://host"))
	tr := factory.Last()

	tr.Message([]byte("early"))
	assert.Empty(t, rec.messages)

	tr.Open()
	tr.Message([]byte("frame"))
	assert.Len(t, rec.messages, 1)
}

// Over random interleavings of lifecycle events, at most one transport
// may ever be active.
func TestAtMostOneActiveTransport(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 50; run++ {
		m, factory, clk, _ := newManagerForTest(t)
		require.NoError(t, m.Open(context.Background(), "ws://host"))

		for step := 0; step < 30; step++ {
			switch rng.Intn(4) {
			case 0:
				if tr := factory.Last(); tr != nil && m.State() == StateConnecting {
					tr.Open()
				}
			case 1:
				if tr := factory.Last(); tr != nil {
					tr.CloseRemote(1006, "fault")
				}
			case 2:
				clk.Advance(time.Duration(rng.Intn(4000)) * time.Millisecond)
			case 3:
				clk.Advance(DefaultOpenTimeout)
			}
			require.LessOrEqual(t, factory.ActiveCount(), 1,
				"run %d step %d state %v", run, step, m.State())
		}

		m.Close()
		require.Equal(t, 0, factory.ActiveCount())
	}
}
