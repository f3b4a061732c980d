package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabnotes/collabnotes.go/internal/clock"
)

func TestAddAssignsDistinctColorsInOrder(t *testing.T) {
	tr := New()

	tr.Add("u1", "alice")
	tr.Add("u2", "bob")
	tr.Add("u3", "carol")

	ps := tr.Participants()
	require.Len(t, ps, 3)
	assert.Equal(t, Palette[0], ps[0].Color)
	assert.Equal(t, Palette[1], ps[1].Color)
	assert.Equal(t, Palette[2], ps[2].Color)
}

func TestAddIsIdempotent(t *testing.T) {
	tr := New()

	tr.Add("u1", "alice")
	tr.Add("u1", "alice")

	assert.Equal(t, 1, tr.Len())
	p, ok := tr.Get("u1")
	require.True(t, ok)
	assert.Equal(t, Palette[0], p.Color)
}

func TestRemoveFreesColorForReassignment(t *testing.T) {
	tr := New()

	tr.Add("u1", "alice")
	tr.Add("u2", "bob")
	tr.Remove("u1")
	tr.Add("u3", "carol")

	p, ok := tr.Get("u3")
	require.True(t, ok)
	assert.Equal(t, Palette[0], p.Color, "lowest unused color is reassigned")
}

func TestPaletteExhaustionWrapsAround(t *testing.T) {
	tr := New(WithPalette([]string{"red", "green"}))

	tr.Add("u1", "a")
	tr.Add("u2", "b")
	tr.Add("u3", "c")
	tr.Add("u4", "d")

	ps := tr.Participants()
	require.Len(t, ps, 4)
	assert.Equal(t, "red", ps[2].Color)
	assert.Equal(t, "green", ps[3].Color)
}

func TestRemoveUnknownIsIgnored(t *testing.T) {
	tr := New()

	tr.Add("u1", "alice")
	tr.Remove("ghost")
	assert.Equal(t, 1, tr.Len())
}

func TestSetCursorIgnoresUnknownUser(t *testing.T) {
	tr := New()

	tr.SetCursor("ghost", 10)
	assert.Equal(t, 0, tr.Len(), "cursor updates must not create roster entries")

	tr.Add("u1", "alice")
	tr.SetCursor("u1", 10)
	p, ok := tr.Get("u1")
	require.True(t, ok)
	require.NotNil(t, p.Cursor)
	assert.Equal(t, 10, *p.Cursor)
}

func TestTypingStateAndStaleness(t *testing.T) {
	clk := clock.NewFake()
	tr := New(WithClock(clk))

	tr.Add("u1", "alice")
	tr.Add("u2", "bob")
	tr.SetTyping("u1", true)

	assert.Equal(t, []string{"alice"}, tr.TypingUsers())

	// A lost typing_stop must not leave the indicator on forever.
	clk.Advance(DefaultStaleTypingAfter)
	assert.Empty(t, tr.TypingUsers())

	// A fresh signal resets the window.
	tr.SetTyping("u1", true)
	clk.Advance(DefaultStaleTypingAfter / 2)
	assert.Equal(t, []string{"alice"}, tr.TypingUsers())

	tr.SetTyping("u1", false)
	assert.Empty(t, tr.TypingUsers())
}

func TestTypingUsersPreservesInsertionOrder(t *testing.T) {
	tr := New()

	tr.Add("u1", "alice")
	tr.Add("u2", "bob")
	tr.Add("u3", "carol")
	tr.SetTyping("u3", true)
	tr.SetTyping("u1", true)

	assert.Equal(t, []string{"alice", "carol"}, tr.TypingUsers())
}

func TestParticipantsAreCopies(t *testing.T) {
	tr := New()

	tr.Add("u1", "alice")
	tr.SetCursor("u1", 5)

	ps := tr.Participants()
	*ps[0].Cursor = 99
	ps[0].Username = "mallory"

	p, _ := tr.Get("u1")
	assert.Equal(t, 5, *p.Cursor)
	assert.Equal(t, "alice", p.Username)
}

func TestResetClearsRosterAndColors(t *testing.T) {
	tr := New(WithPalette([]string{"red"}))

	tr.Add("u1", "alice")
	tr.Add("u2", "bob")
	tr.Reset()

	assert.Equal(t, 0, tr.Len())
	assert.Empty(t, tr.Participants())

	tr.Add("u3", "carol")
	p, ok := tr.Get("u3")
	require.True(t, ok)
	assert.Equal(t, "red", p.Color)
}

func TestSnapshotDerivesTypingThroughStaleness(t *testing.T) {
	clk := clock.NewFake()
	tr := New(WithClock(clk), WithStaleTypingAfter(time.Second))

	tr.Add("u1", "alice")
	tr.SetTyping("u1", true)

	p, _ := tr.Get("u1")
	assert.True(t, p.Typing)

	clk.Advance(time.Second)
	p, _ = tr.Get("u1")
	assert.False(t, p.Typing)
}
