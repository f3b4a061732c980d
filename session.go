package collab

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/collabnotes/collabnotes.go/internal/clock"
	"github.com/collabnotes/collabnotes.go/pkg/auth"
	"github.com/collabnotes/collabnotes.go/pkg/config"
	"github.com/collabnotes/collabnotes.go/pkg/dispatch"
	"github.com/collabnotes/collabnotes.go/pkg/lifecycle"
	"github.com/collabnotes/collabnotes.go/pkg/logger"
	"github.com/collabnotes/collabnotes.go/pkg/notes"
	"github.com/collabnotes/collabnotes.go/pkg/notes/cache"
	"github.com/collabnotes/collabnotes.go/pkg/presence"
	"github.com/collabnotes/collabnotes.go/pkg/throttle"
	"github.com/collabnotes/collabnotes.go/pkg/transport"
	"github.com/collabnotes/collabnotes.go/pkg/transport/gorillaws"
	"github.com/collabnotes/collabnotes.go/pkg/wire"
)

var (
	// ErrNoSession is returned by operations that need an open session.
	ErrNoSession = errors.New("collab: no open session")
	// ErrNoFallback is returned by RequestSave when the channel is down
	// and no CRUD client was configured.
	ErrNoFallback = errors.New("collab: disconnected and no fallback save client configured")
)

// DocumentSnapshot is the editable payload. Every accepted inbound
// update replaces it wholesale; there is no character-level merging.
type DocumentSnapshot struct {
	Title string
	Body  string
}

// SaveState is the auto-save indicator fed by save acknowledgments.
type SaveState int

const (
	SaveIdle SaveState = iota
	SaveSaving
	SaveSaved
)

func (s SaveState) String() string {
	switch s {
	case SaveIdle:
		return "idle"
	case SaveSaving:
		return "saving"
	case SaveSaved:
		return "saved"
	default:
		return "invalid"
	}
}

// savedResetAfter is how long the saved indicator lingers before
// falling back to idle.
const savedResetAfter = 2 * time.Second

// Handlers are the UI-facing callbacks. All are optional and are
// invoked without internal locks held, in transport delivery order.
type Handlers struct {
	// OnRosterChange fires whenever a participant joins, leaves, moves
	// their cursor or changes typing state.
	OnRosterChange func(participants []presence.Participant)
	// OnDocumentChange fires for every accepted remote document update.
	OnDocumentChange func(doc DocumentSnapshot)
	// OnSaveConfirmed fires when the server acknowledges a save.
	OnSaveConfirmed func(savedBy wire.User)
	// OnStatusChange reports connecting/connected/disconnected/error.
	OnStatusChange func(status string)
	// OnError receives server-reported errors and terminal connection
	// failures.
	OnError func(err error)
}

// Session is the top-level coordinator: one logical collaboration
// session per open note. Opening a different note closes the previous
// one first; no two transports are ever active at once.
type Session struct {
	cfg      config.Config
	handlers Handlers
	factory  transport.Factory
	clk      clock.Clock
	log      logger.Logger
	store    *notes.Client
	cache    *cache.Store

	mu     sync.Mutex
	active *activeSession
}

// activeSession is the per-open state. It is discarded wholesale on
// close; nothing is carried over between opens.
type activeSession struct {
	id        string
	noteID    string
	lm        *lifecycle.Manager
	th        *throttle.Throttler
	disp      *dispatch.Dispatcher
	roster    *presence.Tracker
	doc       DocumentSnapshot
	localUser wire.User
	saveState SaveState
	saveReset clock.Timer
}

type Option func(*Session)

// WithTransportFactory replaces the websocket transport, mainly for
// tests.
func WithTransportFactory(factory transport.Factory) Option {
	return func(s *Session) { s.factory = factory }
}

func WithClock(clk clock.Clock) Option {
	return func(s *Session) { s.clk = clk }
}

func WithLogger(log logger.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithNotesClient enables the REST fallback for RequestSave and is
// also used to seed snapshots.
func WithNotesClient(store *notes.Client) Option {
	return func(s *Session) { s.store = store }
}

// WithCache enables local snapshot persistence of accepted saves.
func WithCache(store *cache.Store) Option {
	return func(s *Session) { s.cache = store }
}

// NewSession builds a coordinator from configuration. The zero-config
// path uses the gorilla websocket transport and the system clock.
func NewSession(cfg config.Config, handlers Handlers, opts ...Option) *Session {
	s := &Session{
		cfg:      cfg,
		handlers: handlers,
		factory:  gorillaws.Factory(),
		clk:      clock.System(),
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to a note's collaboration channel. Opening the note
// that is already connected is a no-op; opening a different note tears
// the current session down first. The outcome of the connection attempt
// arrives through Handlers.
func (s *Session) Open(ctx context.Context, noteID string) error {
	s.mu.Lock()
	if s.active != nil && s.active.noteID == noteID && s.active.lm.State() == lifecycle.StateConnected {
		s.mu.Unlock()
		return nil
	}
	old := s.active
	s.active = nil
	s.mu.Unlock()

	// The previous session is torn down synchronously before the new
	// dial starts; two transports must never overlap.
	s.teardown(old)

	a := &activeSession{
		id:     uuid.NewString(),
		noteID: noteID,
		roster: presence.New(
			presence.WithClock(s.clk),
			presence.WithStaleTypingAfter(s.cfg.Throttle.TypingStale.Std()),
		),
	}

	// Seed the local identity from the token so self-echo suppression
	// works before the connected frame lands.
	if id, err := auth.ParseIdentity(s.cfg.Token); err == nil {
		a.localUser = wire.User{ID: id.UserID, Username: id.Username}
	} else {
		s.log.Debug("token identity unavailable until connected frame", "error", err)
	}

	a.disp = dispatch.New(s.inboundHandlers(a), func() string {
		s.mu.Lock()
		defer s.mu.Unlock()
		return a.localUser.ID
	}, dispatch.WithLogger(s.log))

	a.th = throttle.New(
		func(f wire.Frame) { s.sendFrame(a, f) },
		func() bool { return a.lm.State() == lifecycle.StateConnected },
		throttle.WithClock(s.clk),
		throttle.WithLogger(s.log),
		throttle.WithDelay(throttle.ChannelCursor, s.cfg.Throttle.Cursor.Std()),
		throttle.WithDelay(throttle.ChannelLiveTyping, s.cfg.Throttle.LiveTyping.Std()),
		throttle.WithDelay(throttle.ChannelPersist, s.cfg.Throttle.Persist.Std()),
		throttle.WithTypingStopAfter(s.cfg.Throttle.TypingStopAfter.Std()),
	)

	a.lm = lifecycle.New(s.factory, lifecycle.Events{
		OnStateChange: func(st lifecycle.State) { s.onStateChange(a, st) },
		OnOpen:        func() { s.onChannelOpen(a) },
		OnMessage:     func(data []byte) { a.disp.Dispatch(data) },
		OnTerminal: func(err error) {
			s.emitError(fmt.Errorf("collab: session %s, note %s: %w", a.id, a.noteID, err))
		},
	},
		lifecycle.WithClock(s.clk),
		lifecycle.WithLogger(s.log),
		lifecycle.WithMaxAttempts(s.cfg.Reconnect.MaxAttempts),
		lifecycle.WithOpenTimeout(s.cfg.Reconnect.OpenTimeout.Std()),
		lifecycle.WithRetryPolicy(constantPolicy(s.cfg.Reconnect.Interval.Std())),
	)

	s.mu.Lock()
	s.active = a
	s.mu.Unlock()

	endpoint := fmt.Sprintf("%s/ws/notes/%s?token=%s",
		s.cfg.WSURL, url.PathEscape(noteID), url.QueryEscape(s.cfg.Token))
	s.log.Info("opening session", "session_id", a.id, "note_id", noteID)
	return a.lm.Open(ctx, endpoint)
}

// Close tears down the current session: cancels throttled sends and
// timers, closes the transport with the manual code. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	a := s.active
	s.active = nil
	s.mu.Unlock()

	s.teardown(a)
	return nil
}

// teardown runs without s.mu held; closing the lifecycle manager emits
// callbacks that may re-enter the session.
func (s *Session) teardown(a *activeSession) {
	if a == nil {
		return
	}
	a.th.CancelAll()
	if a.saveReset != nil {
		a.saveReset.Stop()
	}
	_ = a.lm.Close()
	s.log.Info("session closed", "session_id", a.id, "note_id", a.noteID)
}

// EditTitleOrBody records a local edit. The snapshot is updated
// synchronously so the editor never waits on the network; outbound
// sends are throttled and skipped entirely while disconnected.
func (s *Session) EditTitleOrBody(title, body string, caret int) {
	s.mu.Lock()
	a := s.active
	if a == nil {
		s.mu.Unlock()
		return
	}
	a.doc = DocumentSnapshot{Title: title, Body: body}
	s.mu.Unlock()

	a.th.Keystroke()
	a.th.Schedule(throttle.ChannelLiveTyping, wire.NewLiveTyping(body, title, caret))
	a.th.Schedule(throttle.ChannelPersist, wire.NewEditNote(body, title))
}

// UpdateCursor broadcasts the local caret position, throttled.
func (s *Session) UpdateCursor(position int) {
	if a := s.current(); a != nil {
		a.th.Schedule(throttle.ChannelCursor, wire.NewCursorPosition(position))
	}
}

// NotifyTyping forwards a typing signal: true on keystroke, false when
// the editor loses focus.
func (s *Session) NotifyTyping(typing bool) {
	a := s.current()
	if a == nil {
		return
	}
	if typing {
		a.th.Keystroke()
	} else {
		a.th.Blur()
	}
}

// RequestSave persists the document immediately, bypassing the persist
// throttle. While disconnected it degrades to a plain CRUD update if a
// notes client is configured.
func (s *Session) RequestSave(ctx context.Context, title, body string) error {
	s.mu.Lock()
	a := s.active
	if a == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	a.doc = DocumentSnapshot{Title: title, Body: body}
	noteID := a.noteID
	connected := a.lm.State() == lifecycle.StateConnected
	if connected {
		s.setSaveStateLocked(a, SaveSaving)
	}
	s.mu.Unlock()

	if connected {
		s.sendFrame(a, wire.NewSaveNote(body, title))
		return nil
	}

	if s.store == nil {
		return ErrNoFallback
	}
	s.log.Info("channel down, saving over REST", "note_id", noteID)
	saved, err := s.store.Update(ctx, noteID, notes.UpdateRequest{Title: &title, Content: &body})
	if err != nil {
		return fmt.Errorf("collab: fallback save: %w", err)
	}
	s.cacheSnapshot(saved)
	s.emitSaveConfirmed(s.localUser())
	return nil
}

// Status reports the connection state as the UI indicator strings
// connecting, connected, disconnected or error.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return "disconnected"
	}
	return s.active.lm.State().Status()
}

// SessionID returns the identifier of the current session, or "" when
// none is open. The same id tags log lines and terminal errors, so a
// failure can be correlated with the session that produced it.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ""
	}
	return s.active.id
}

// IsConnectedTo reports whether the session is live for a given note.
func (s *Session) IsConnectedTo(noteID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil && s.active.noteID == noteID &&
		s.active.lm.State() == lifecycle.StateConnected
}

// Document returns the current local snapshot.
func (s *Session) Document() DocumentSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return DocumentSnapshot{}
	}
	return s.active.doc
}

// Participants returns the remote roster in insertion order.
func (s *Session) Participants() []presence.Participant {
	if a := s.current(); a != nil {
		return a.roster.Participants()
	}
	return nil
}

// TypingUsers returns the usernames currently typing.
func (s *Session) TypingUsers() []string {
	if a := s.current(); a != nil {
		return a.roster.TypingUsers()
	}
	return nil
}

// SaveStatus reports the auto-save indicator state.
func (s *Session) SaveStatus() SaveState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return SaveIdle
	}
	return s.active.saveState
}

func (s *Session) current() *activeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) localUser() wire.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return wire.User{}
	}
	return s.active.localUser
}

func (s *Session) sendFrame(a *activeSession, f wire.Frame) {
	data, err := wire.Encode(f)
	if err != nil {
		s.log.Error("dropping unencodable frame", "kind", string(f.Kind()), "error", err)
		return
	}
	if err := a.lm.Send(data); err != nil {
		// Dropped by design while not connected.
		s.log.Debug("send skipped", "kind", string(f.Kind()), "error", err)
	}
}

// onChannelOpen runs on every successful open, including reopens after
// a reconnect: the join request is re-issued and the roster rebuilt
// from scratch, so no stale participants survive a reconnect.
func (s *Session) onChannelOpen(a *activeSession) {
	a.roster.Reset()
	s.sendFrame(a, wire.NewJoinNote())
	s.emitRosterChange(a)
}

func (s *Session) onStateChange(a *activeSession, st lifecycle.State) {
	if s.handlers.OnStatusChange != nil {
		s.handlers.OnStatusChange(st.Status())
	}
}

func (s *Session) inboundHandlers(a *activeSession) dispatch.Handlers {
	return dispatch.Handlers{
		OnConnected: func(f *wire.Connected) {
			s.mu.Lock()
			a.localUser = f.User
			s.mu.Unlock()
			s.log.Info("channel acknowledged", "session_id", a.id, "user", f.User.Username)
		},
		OnJoined: func(f *wire.Joined) {
			s.log.Info("joined note", "session_id", a.id, "note_id", f.NoteID)
		},
		OnNoteUpdated: func(f *wire.NoteUpdated) {
			s.applyRemoteDocument(a, f.Title, f.Content)
		},
		OnLiveEdit: func(f *wire.LiveEdit) {
			s.applyRemoteDocument(a, f.Title, f.Content)
		},
		OnLiveTyping: func(f *wire.LiveTyping) {
			s.applyRemoteDocument(a, f.Title, f.Content)
			if f.User != nil {
				a.roster.SetCursor(f.User.ID, f.CursorPosition)
				a.roster.SetTyping(f.User.ID, true)
				s.emitRosterChange(a)
			}
		},
		OnUserJoined: func(f *wire.UserJoined) {
			if f.User.ID == s.localUser().ID {
				return
			}
			a.roster.Add(f.User.ID, f.User.Username)
			s.emitRosterChange(a)
		},
		OnUserLeft: func(f *wire.UserLeft) {
			if f.User.ID == s.localUser().ID {
				s.log.Warn("server removed local user from note", "note_id", a.noteID)
				return
			}
			a.roster.Remove(f.User.ID)
			s.emitRosterChange(a)
		},
		OnCursorPosition: func(f *wire.CursorPosition) {
			if f.User == nil {
				return
			}
			a.roster.SetCursor(f.User.ID, f.Position)
			s.emitRosterChange(a)
		},
		OnTypingStart: func(f *wire.TypingStart) {
			if f.User != nil {
				a.roster.SetTyping(f.User.ID, true)
			}
			s.reconcileTypingList(a, f.TypingUsers)
			s.emitRosterChange(a)
		},
		OnTypingStop: func(f *wire.TypingStop) {
			if f.User != nil {
				a.roster.SetTyping(f.User.ID, false)
			}
			s.reconcileTypingList(a, f.TypingUsers)
			s.emitRosterChange(a)
		},
		OnNoteSaved: func(f *wire.NoteSaved) {
			s.applyRemoteDocument(a, f.Title, f.Content)
			s.markSaved(a)
			s.cacheSnapshot(notes.Note{ID: a.noteID, Title: f.Title, Content: f.Content})
			s.emitSaveConfirmed(f.SavedBy)
		},
		OnAutoSaved: func(f *wire.AutoSaved) {
			s.markSaved(a)
		},
		OnSaveSuccess: func(f *wire.SaveSuccess) {
			s.markSaved(a)
			s.emitSaveConfirmed(s.localUser())
		},
		OnError: func(f *wire.ServerError) {
			s.emitError(fmt.Errorf("collab: server error: %s", f.Message))
		},
	}
}

// applyRemoteDocument replaces the snapshot last-writer-wins and
// notifies the UI. Self-echoes never reach here; the dispatcher drops
// them, so a delayed echo of our own edit cannot clobber newer local
// keystrokes.
func (s *Session) applyRemoteDocument(a *activeSession, title, content string) {
	s.mu.Lock()
	a.doc = DocumentSnapshot{Title: title, Body: content}
	doc := a.doc
	s.mu.Unlock()

	if s.handlers.OnDocumentChange != nil {
		s.handlers.OnDocumentChange(doc)
	}
}

// reconcileTypingList aligns roster typing state with a server-provided
// username list, which is authoritative when present.
func (s *Session) reconcileTypingList(a *activeSession, typingUsers []string) {
	if typingUsers == nil {
		return
	}
	listed := make(map[string]bool, len(typingUsers))
	for _, name := range typingUsers {
		listed[name] = true
	}
	for _, p := range a.roster.Participants() {
		a.roster.SetTyping(p.ID, listed[p.Username])
	}
}

func (s *Session) markSaved(a *activeSession) {
	s.mu.Lock()
	s.setSaveStateLocked(a, SaveSaved)
	s.mu.Unlock()
}

// setSaveStateLocked updates the indicator; a saved indicator decays
// back to idle shortly after.
func (s *Session) setSaveStateLocked(a *activeSession, st SaveState) {
	a.saveState = st
	if a.saveReset != nil {
		a.saveReset.Stop()
		a.saveReset = nil
	}
	if st == SaveSaved {
		a.saveReset = s.clk.AfterFunc(savedResetAfter, func() {
			s.mu.Lock()
			if s.active == a && a.saveState == SaveSaved {
				a.saveState = SaveIdle
			}
			s.mu.Unlock()
		})
	}
}

func (s *Session) cacheSnapshot(n notes.Note) {
	if s.cache == nil || n.ID == "" {
		return
	}
	if err := s.cache.Put(n, s.clk.Now()); err != nil {
		s.log.Warn("snapshot cache write failed", "note_id", n.ID, "error", err)
	}
}

func (s *Session) emitRosterChange(a *activeSession) {
	if s.handlers.OnRosterChange != nil {
		s.handlers.OnRosterChange(a.roster.Participants())
	}
}

func (s *Session) emitSaveConfirmed(savedBy wire.User) {
	if s.handlers.OnSaveConfirmed != nil {
		s.handlers.OnSaveConfirmed(savedBy)
	}
}

func constantPolicy(interval time.Duration) backoff.BackOff {
	return backoff.NewConstantBackOff(interval)
}

func (s *Session) emitError(err error) {
	s.log.Warn("session error", "error", err)
	if s.handlers.OnError != nil {
		s.handlers.OnError(err)
	}
}
