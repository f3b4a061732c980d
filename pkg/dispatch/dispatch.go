// Package dispatch routes raw inbound frames to typed handlers. Frames
// the server rebroadcasts to their own originator are suppressed here,
// so downstream consumers only ever see remote activity.
package dispatch

import (
	"github.com/collabnotes/collabnotes.go/pkg/logger"
	"github.com/collabnotes/collabnotes.go/pkg/wire"
)

// Handlers receives decoded frames. Nil handlers are skipped; exactly
// one handler fires per dispatched frame.
type Handlers struct {
	OnConnected      func(*wire.Connected)
	OnJoined         func(*wire.Joined)
	OnNoteUpdated    func(*wire.NoteUpdated)
	OnUserJoined     func(*wire.UserJoined)
	OnUserLeft       func(*wire.UserLeft)
	OnCursorPosition func(*wire.CursorPosition)
	OnTypingStart    func(*wire.TypingStart)
	OnTypingStop     func(*wire.TypingStop)
	OnLiveEdit       func(*wire.LiveEdit)
	OnLiveTyping     func(*wire.LiveTyping)
	OnNoteSaved      func(*wire.NoteSaved)
	OnAutoSaved      func(*wire.AutoSaved)
	OnSaveSuccess    func(*wire.SaveSuccess)
	OnError          func(*wire.ServerError)
}

// Dispatcher decodes and routes inbound frames for one session.
type Dispatcher struct {
	handlers    Handlers
	localUserID func() string
	log         logger.Logger
}

type Option func(*Dispatcher)

func WithLogger(log logger.Logger) Option {
	return func(d *Dispatcher) { d.log = log }
}

// New builds a dispatcher. localUserID reports the session's own user
// id, learned from the connected frame; it returns "" until known.
func New(handlers Handlers, localUserID func() string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers:    handlers,
		localUserID: localUserID,
		log:         logger.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch decodes raw and invokes the matching handler. Malformed and
// unrecognized frames are logged and dropped; inbound traffic must
// never tear a session down.
func (d *Dispatcher) Dispatch(raw []byte) {
	f, err := wire.Decode(raw)
	if err != nil {
		d.log.Debug("dropping undecodable frame", "error", err)
		return
	}

	if d.isSelfEcho(f) {
		d.log.Debug("dropping self-originated frame", "kind", string(f.Kind()))
		return
	}

	switch v := f.(type) {
	case *wire.Connected:
		if d.handlers.OnConnected != nil {
			d.handlers.OnConnected(v)
		}
	case *wire.Joined:
		if d.handlers.OnJoined != nil {
			d.handlers.OnJoined(v)
		}
	case *wire.NoteUpdated:
		if d.handlers.OnNoteUpdated != nil {
			d.handlers.OnNoteUpdated(v)
		}
	case *wire.UserJoined:
		if d.handlers.OnUserJoined != nil {
			d.handlers.OnUserJoined(v)
		}
	case *wire.UserLeft:
		if d.handlers.OnUserLeft != nil {
			d.handlers.OnUserLeft(v)
		}
	case *wire.CursorPosition:
		if d.handlers.OnCursorPosition != nil {
			d.handlers.OnCursorPosition(v)
		}
	case *wire.TypingStart:
		if d.handlers.OnTypingStart != nil {
			d.handlers.OnTypingStart(v)
		}
	case *wire.TypingStop:
		if d.handlers.OnTypingStop != nil {
			d.handlers.OnTypingStop(v)
		}
	case *wire.LiveEdit:
		if d.handlers.OnLiveEdit != nil {
			d.handlers.OnLiveEdit(v)
		}
	case *wire.LiveTyping:
		if d.handlers.OnLiveTyping != nil {
			d.handlers.OnLiveTyping(v)
		}
	case *wire.NoteSaved:
		if d.handlers.OnNoteSaved != nil {
			d.handlers.OnNoteSaved(v)
		}
	case *wire.AutoSaved:
		if d.handlers.OnAutoSaved != nil {
			d.handlers.OnAutoSaved(v)
		}
	case *wire.SaveSuccess:
		if d.handlers.OnSaveSuccess != nil {
			d.handlers.OnSaveSuccess(v)
		}
	case *wire.ServerError:
		if d.handlers.OnError != nil {
			d.handlers.OnError(v)
		}
	default:
		d.log.Debug("no route for frame", "kind", string(f.Kind()))
	}
}

// isSelfEcho reports whether f is the server echoing the local user's
// own activity back. Roster changes and explicit saves stay visible
// even when self-originated; a user_left for ourselves, for example,
// signals a forced disconnect elsewhere.
func (d *Dispatcher) isSelfEcho(f wire.Frame) bool {
	switch f.Kind() {
	case wire.KindNoteUpdated, wire.KindCursorPosition,
		wire.KindTypingStart, wire.KindTypingStop,
		wire.KindLiveEdit, wire.KindLiveTyping:
	default:
		return false
	}

	origin, ok := wire.Origin(f)
	if !ok {
		return false
	}
	local := d.localUserID()
	return local != "" && origin.ID == local
}
