package dispatch

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabnotes/collabnotes.go/pkg/wire"
)

type routed struct {
	kinds []wire.Kind
}

func (r *routed) record(k wire.Kind) { r.kinds = append(r.kinds, k) }

func allHandlers(r *routed) Handlers {
	return Handlers{
		OnConnected:      func(*wire.Connected) { r.record(wire.KindConnected) },
		OnJoined:         func(*wire.Joined) { r.record(wire.KindJoined) },
		OnNoteUpdated:    func(*wire.NoteUpdated) { r.record(wire.KindNoteUpdated) },
		OnUserJoined:     func(*wire.UserJoined) { r.record(wire.KindUserJoined) },
		OnUserLeft:       func(*wire.UserLeft) { r.record(wire.KindUserLeft) },
		OnCursorPosition: func(*wire.CursorPosition) { r.record(wire.KindCursorPosition) },
		OnTypingStart:    func(*wire.TypingStart) { r.record(wire.KindTypingStart) },
		OnTypingStop:     func(*wire.TypingStop) { r.record(wire.KindTypingStop) },
		OnLiveEdit:       func(*wire.LiveEdit) { r.record(wire.KindLiveEdit) },
		OnLiveTyping:     func(*wire.LiveTyping) { r.record(wire.KindLiveTyping) },
		OnNoteSaved:      func(*wire.NoteSaved) { r.record(wire.KindNoteSaved) },
		OnAutoSaved:      func(*wire.AutoSaved) { r.record(wire.KindAutoSaved) },
		OnSaveSuccess:    func(*wire.SaveSuccess) { r.record(wire.KindSaveSuccess) },
		OnError:          func(*wire.ServerError) { r.record(wire.KindError) },
	}
}

func localID(id string) func() string {
	return func() string { return id }
}

func TestDispatchRoutesToExactlyOneHandler(t *testing.T) {
	r := &routed{}
	d := New(allHandlers(r), localID("me"))

	d.Dispatch([]byte(`{"type":"joined","noteId":"n1"}`))
	d.Dispatch([]byte(`{"type":"note_updated","content":"x","updatedBy":{"id":"u2","username":"bob"}}`))
	d.Dispatch([]byte(`{"type":"error","message":"boom"}`))

	assert.Equal(t, []wire.Kind{wire.KindJoined, wire.KindNoteUpdated, wire.KindError}, r.kinds)
}

func TestMalformedAndUnknownFramesAreDropped(t *testing.T) {
	r := &routed{}
	d := New(allHandlers(r), localID("me"))

	d.Dispatch([]byte(`not json`))
	d.Dispatch([]byte(`{"type":"note_deleted"}`))
	d.Dispatch([]byte(`{}`))

	assert.Empty(t, r.kinds, "undecodable traffic must never reach handlers")
}

func TestSelfEchoSuppressionMatrix(t *testing.T) {
	self := `{"id":"me","username":"alice"}`

	cases := []struct {
		raw       string
		delivered bool
	}{
		{fmt.Sprintf(`{"type":"note_updated","content":"x","updatedBy":%s}`, self), false},
		{fmt.Sprintf(`{"type":"cursor_position","position":3,"user":%s}`, self), false},
		{fmt.Sprintf(`{"type":"typing_start","user":%s}`, self), false},
		{fmt.Sprintf(`{"type":"typing_stop","user":%s}`, self), false},
		{fmt.Sprintf(`{"type":"live_edit","content":"x","user":%s}`, self), false},
		{fmt.Sprintf(`{"type":"live_typing","content":"x","cursorPosition":1,"user":%s}`, self), false},

		// Roster changes and explicit saves stay visible for self.
		{fmt.Sprintf(`{"type":"user_joined","user":%s}`, self), true},
		{fmt.Sprintf(`{"type":"user_left","user":%s}`, self), true},
		{fmt.Sprintf(`{"type":"note_saved","content":"x","savedBy":%s}`, self), true},
	}

	for _, tc := range cases {
		r := &routed{}
		d := New(allHandlers(r), localID("me"))
		d.Dispatch([]byte(tc.raw))
		if tc.delivered {
			assert.Len(t, r.kinds, 1, "expected delivery: %s", tc.raw)
		} else {
			assert.Empty(t, r.kinds, "expected suppression: %s", tc.raw)
		}
	}
}

func TestRemoteFramesAreNotSuppressed(t *testing.T) {
	r := &routed{}
	d := New(allHandlers(r), localID("me"))

	d.Dispatch([]byte(`{"type":"cursor_position","position":7,"user":{"id":"u2","username":"bob"}}`))
	d.Dispatch([]byte(`{"type":"live_typing","content":"hi","cursorPosition":2,"user":{"id":"u2","username":"bob"}}`))

	assert.Equal(t, []wire.Kind{wire.KindCursorPosition, wire.KindLiveTyping}, r.kinds)
}

func TestUnknownLocalIdentityDeliversEverything(t *testing.T) {
	r := &routed{}
	d := New(allHandlers(r), localID(""))

	// Before the connected frame arrives the local id is unknown, so
	// suppression cannot apply.
	d.Dispatch([]byte(`{"type":"cursor_position","position":1,"user":{"id":"me","username":"alice"}}`))
	assert.Len(t, r.kinds, 1)
}

func TestNilHandlerIsSkippedQuietly(t *testing.T) {
	var got *wire.Joined
	d := New(Handlers{
		OnJoined: func(f *wire.Joined) { got = f },
	}, localID("me"))

	d.Dispatch([]byte(`{"type":"note_saved","content":"x","savedBy":{"id":"u2","username":"bob"}}`))
	d.Dispatch([]byte(`{"type":"joined","noteId":"n1"}`))

	require.NotNil(t, got)
	assert.Equal(t, "n1", got.NoteID)
}
