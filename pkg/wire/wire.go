// Package wire defines the tagged JSON frames exchanged with the
// collaboration endpoint. Every frame carries a "type" discriminator;
// Decode maps raw bytes onto exactly one concrete frame type.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind discriminates frame types on the wire.
type Kind string

const (
	// Client -> server.
	KindJoinNote Kind = "join_note"
	KindEditNote Kind = "edit_note"
	KindSaveNote Kind = "save_note"

	// Both directions: the server rebroadcasts these with the
	// originating user and a timestamp attached.
	KindCursorPosition Kind = "cursor_position"
	KindTypingStart    Kind = "typing_start"
	KindTypingStop     Kind = "typing_stop"
	KindLiveEdit       Kind = "live_edit"
	KindLiveTyping     Kind = "live_typing"

	// Server -> client.
	KindConnected   Kind = "connected"
	KindJoined      Kind = "joined"
	KindNoteUpdated Kind = "note_updated"
	KindUserJoined  Kind = "user_joined"
	KindUserLeft    Kind = "user_left"
	KindNoteSaved   Kind = "note_saved"
	KindAutoSaved   Kind = "auto_saved"
	KindSaveSuccess Kind = "save_success"
	KindError       Kind = "error"
)

// ErrUnknownKind is returned by Decode for frame types outside the
// recognized set. Callers treat it as a skippable condition, never fatal.
var ErrUnknownKind = errors.New("unknown frame kind")

// User identifies a collaboration participant.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Frame is implemented by every decodable frame.
type Frame interface {
	Kind() Kind
}

type JoinNote struct {
	Type Kind `json:"type"`
}

type EditNote struct {
	Type    Kind   `json:"type"`
	Content string `json:"content"`
	Title   string `json:"title"`
}

type SaveNote struct {
	Type    Kind   `json:"type"`
	Content string `json:"content"`
	Title   string `json:"title"`
}

// CursorPosition carries a rune offset into the note body. User and
// Timestamp are set only on server rebroadcasts.
type CursorPosition struct {
	Type      Kind   `json:"type"`
	Position  int    `json:"position"`
	User      *User  `json:"user,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type TypingStart struct {
	Type        Kind     `json:"type"`
	User        *User    `json:"user,omitempty"`
	TypingUsers []string `json:"typingUsers,omitempty"`
	Timestamp   string   `json:"timestamp,omitempty"`
}

type TypingStop struct {
	Type        Kind     `json:"type"`
	User        *User    `json:"user,omitempty"`
	TypingUsers []string `json:"typingUsers,omitempty"`
	Timestamp   string   `json:"timestamp,omitempty"`
}

type LiveEdit struct {
	Type      Kind   `json:"type"`
	Content   string `json:"content"`
	Title     string `json:"title"`
	User      *User  `json:"user,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type LiveTyping struct {
	Type           Kind   `json:"type"`
	Content        string `json:"content"`
	Title          string `json:"title"`
	CursorPosition int    `json:"cursorPosition"`
	User           *User  `json:"user,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
}

type Connected struct {
	Type    Kind   `json:"type"`
	Message string `json:"message"`
	User    User   `json:"user"`
}

type Joined struct {
	Type      Kind   `json:"type"`
	NoteID    string `json:"noteId"`
	Timestamp string `json:"timestamp"`
}

type NoteUpdated struct {
	Type      Kind   `json:"type"`
	Content   string `json:"content"`
	Title     string `json:"title"`
	UpdatedBy User   `json:"updatedBy"`
	Timestamp string `json:"timestamp"`
}

type UserJoined struct {
	Type      Kind   `json:"type"`
	User      User   `json:"user"`
	Timestamp string `json:"timestamp"`
}

type UserLeft struct {
	Type      Kind   `json:"type"`
	User      User   `json:"user"`
	Timestamp string `json:"timestamp"`
}

type NoteSaved struct {
	Type      Kind   `json:"type"`
	Content   string `json:"content"`
	Title     string `json:"title"`
	SavedBy   User   `json:"savedBy"`
	Timestamp string `json:"timestamp"`
}

type AutoSaved struct {
	Type      Kind   `json:"type"`
	Timestamp string `json:"timestamp"`
}

type SaveSuccess struct {
	Type      Kind   `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type ServerError struct {
	Type    Kind   `json:"type"`
	Message string `json:"message"`
}

func (f *JoinNote) Kind() Kind       { return KindJoinNote }
func (f *EditNote) Kind() Kind       { return KindEditNote }
func (f *SaveNote) Kind() Kind       { return KindSaveNote }
func (f *CursorPosition) Kind() Kind { return KindCursorPosition }
func (f *TypingStart) Kind() Kind    { return KindTypingStart }
func (f *TypingStop) Kind() Kind     { return KindTypingStop }
func (f *LiveEdit) Kind() Kind       { return KindLiveEdit }
func (f *LiveTyping) Kind() Kind     { return KindLiveTyping }
func (f *Connected) Kind() Kind      { return KindConnected }
func (f *Joined) Kind() Kind         { return KindJoined }
func (f *NoteUpdated) Kind() Kind    { return KindNoteUpdated }
func (f *UserJoined) Kind() Kind     { return KindUserJoined }
func (f *UserLeft) Kind() Kind       { return KindUserLeft }
func (f *NoteSaved) Kind() Kind      { return KindNoteSaved }
func (f *AutoSaved) Kind() Kind      { return KindAutoSaved }
func (f *SaveSuccess) Kind() Kind    { return KindSaveSuccess }
func (f *ServerError) Kind() Kind    { return KindError }

func NewJoinNote() *JoinNote {
	return &JoinNote{Type: KindJoinNote}
}

func NewEditNote(content, title string) *EditNote {
	return &EditNote{Type: KindEditNote, Content: content, Title: title}
}

func NewSaveNote(content, title string) *SaveNote {
	return &SaveNote{Type: KindSaveNote, Content: content, Title: title}
}

func NewCursorPosition(position int) *CursorPosition {
	return &CursorPosition{Type: KindCursorPosition, Position: position}
}

func NewTypingStart() *TypingStart {
	return &TypingStart{Type: KindTypingStart}
}

func NewTypingStop() *TypingStop {
	return &TypingStop{Type: KindTypingStop}
}

func NewLiveEdit(content, title string) *LiveEdit {
	return &LiveEdit{Type: KindLiveEdit, Content: content, Title: title}
}

func NewLiveTyping(content, title string, cursorPosition int) *LiveTyping {
	return &LiveTyping{Type: KindLiveTyping, Content: content, Title: title, CursorPosition: cursorPosition}
}

// Encode marshals a frame for transmission.
func Encode(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding %q frame: %w", f.Kind(), err)
	}
	return data, nil
}

// Decode parses a raw frame into its concrete type. Unrecognized kinds
// return ErrUnknownKind so callers can skip them without failing.
func Decode(raw []byte) (Frame, error) {
	var probe struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decoding frame tag: %w", err)
	}

	var f Frame
	switch probe.Type {
	case KindConnected:
		f = &Connected{}
	case KindJoined:
		f = &Joined{}
	case KindNoteUpdated:
		f = &NoteUpdated{}
	case KindUserJoined:
		f = &UserJoined{}
	case KindUserLeft:
		f = &UserLeft{}
	case KindCursorPosition:
		f = &CursorPosition{}
	case KindTypingStart:
		f = &TypingStart{}
	case KindTypingStop:
		f = &TypingStop{}
	case KindLiveEdit:
		f = &LiveEdit{}
	case KindLiveTyping:
		f = &LiveTyping{}
	case KindNoteSaved:
		f = &NoteSaved{}
	case KindAutoSaved:
		f = &AutoSaved{}
	case KindSaveSuccess:
		f = &SaveSuccess{}
	case KindError:
		f = &ServerError{}
	case KindJoinNote:
		f = &JoinNote{}
	case KindEditNote:
		f = &EditNote{}
	case KindSaveNote:
		f = &SaveNote{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, probe.Type)
	}

	if err := json.Unmarshal(raw, f); err != nil {
		return nil, fmt.Errorf("decoding %q frame: %w", probe.Type, err)
	}
	return f, nil
}

// Origin returns the originating user for frames that carry one.
func Origin(f Frame) (User, bool) {
	switch v := f.(type) {
	case *NoteUpdated:
		return v.UpdatedBy, true
	case *UserJoined:
		return v.User, true
	case *UserLeft:
		return v.User, true
	case *NoteSaved:
		return v.SavedBy, true
	case *CursorPosition:
		if v.User != nil {
			return *v.User, true
		}
	case *TypingStart:
		if v.User != nil {
			return *v.User, true
		}
	case *TypingStop:
		if v.User != nil {
			return *v.User, true
		}
	case *LiveEdit:
		if v.User != nil {
			return *v.User, true
		}
	case *LiveTyping:
		if v.User != nil {
			return *v.User, true
		}
	}
	return User{}, false
}
