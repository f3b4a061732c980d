// Package presence maintains the roster of participants in one
// document session: identity colors, cursor positions and transient
// typing state. The local user is never part of the roster.
package presence

import (
	"sync"
	"time"

	"github.com/collabnotes/collabnotes.go/internal/clock"
)

// Palette is the fixed set of identity colors. It is intentionally
// small; sessions with more participants than colors reuse them.
var Palette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7",
	"#DDA0DD", "#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E9",
}

// DefaultStaleTypingAfter is the window after which a participant is
// considered not typing even if their typing_stop frame was lost.
const DefaultStaleTypingAfter = 5 * time.Second

// Participant is one remote user visible in the session.
type Participant struct {
	ID           string
	Username     string
	Color        string
	Cursor       *int
	Typing       bool
	LastTypingAt time.Time
}

// Tracker tracks the participants of a single session. Insertion order
// is preserved; it is stable for color assignment, not a display order.
type Tracker struct {
	clk        clock.Clock
	staleAfter time.Duration
	palette    []string

	mu      sync.Mutex
	order   []string
	byID    map[string]*Participant
	assigns int
}

type Option func(*Tracker)

func WithClock(clk clock.Clock) Option {
	return func(tr *Tracker) { tr.clk = clk }
}

func WithStaleTypingAfter(d time.Duration) Option {
	return func(tr *Tracker) { tr.staleAfter = d }
}

// WithPalette overrides the identity color palette.
func WithPalette(colors []string) Option {
	return func(tr *Tracker) { tr.palette = colors }
}

func New(opts ...Option) *Tracker {
	tr := &Tracker{
		clk:        clock.System(),
		staleAfter: DefaultStaleTypingAfter,
		palette:    Palette,
		byID:       make(map[string]*Participant),
	}
	for _, opt := range opts {
		opt(tr)
	}
	return tr
}

// Add registers a participant and assigns it the lowest-index color not
// currently in use. Duplicate adds are ignored. When every color is
// taken the palette wraps around and colors get reused.
func (tr *Tracker) Add(id, username string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if _, ok := tr.byID[id]; ok {
		return
	}

	tr.byID[id] = &Participant{
		ID:       id,
		Username: username,
		Color:    tr.nextColorLocked(),
	}
	tr.order = append(tr.order, id)
}

func (tr *Tracker) nextColorLocked() string {
	used := make(map[string]bool, len(tr.byID))
	for _, p := range tr.byID {
		used[p.Color] = true
	}
	for _, c := range tr.palette {
		if !used[c] {
			return c
		}
	}
	// Palette exhausted: reuse round-robin over total assignments.
	c := tr.palette[tr.assigns%len(tr.palette)]
	tr.assigns++
	return c
}

// Remove drops a participant and frees its color for reassignment.
// Unknown ids are ignored.
func (tr *Tracker) Remove(id string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if _, ok := tr.byID[id]; !ok {
		return
	}
	delete(tr.byID, id)
	for i, other := range tr.order {
		if other == id {
			tr.order = append(tr.order[:i], tr.order[i+1:]...)
			break
		}
	}
}

// SetCursor records a participant's caret offset. Unknown ids are
// ignored rather than implicitly added; the roster is driven solely by
// join/leave events.
func (tr *Tracker) SetCursor(id string, position int) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if p, ok := tr.byID[id]; ok {
		pos := position
		p.Cursor = &pos
	}
}

// SetTyping records a participant's typing state.
func (tr *Tracker) SetTyping(id string, typing bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	p, ok := tr.byID[id]
	if !ok {
		return
	}
	p.Typing = typing
	if typing {
		p.LastTypingAt = tr.clk.Now()
	}
}

// Get returns a copy of one participant.
func (tr *Tracker) Get(id string) (Participant, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	p, ok := tr.byID[id]
	if !ok {
		return Participant{}, false
	}
	return tr.snapshotLocked(p), true
}

// Participants returns copies of all participants in insertion order,
// with typing state already derived through the staleness window.
func (tr *Tracker) Participants() []Participant {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	out := make([]Participant, 0, len(tr.order))
	for _, id := range tr.order {
		out = append(out, tr.snapshotLocked(tr.byID[id]))
	}
	return out
}

// TypingUsers returns the usernames of participants currently typing.
// A participant whose last typing signal is older than the staleness
// window is reported as not typing, protecting against a lost
// typing_stop frame.
func (tr *Tracker) TypingUsers() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	var out []string
	for _, id := range tr.order {
		if tr.typingLocked(tr.byID[id]) {
			out = append(out, tr.byID[id].Username)
		}
	}
	return out
}

// Len reports the roster size.
func (tr *Tracker) Len() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.byID)
}

// Reset clears the roster, e.g. when a reconnect rebuilds session state
// from scratch.
func (tr *Tracker) Reset() {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.order = nil
	tr.byID = make(map[string]*Participant)
	tr.assigns = 0
}

func (tr *Tracker) snapshotLocked(p *Participant) Participant {
	out := *p
	out.Typing = tr.typingLocked(p)
	if p.Cursor != nil {
		pos := *p.Cursor
		out.Cursor = &pos
	}
	return out
}

func (tr *Tracker) typingLocked(p *Participant) bool {
	if !p.Typing {
		return false
	}
	return tr.clk.Now().Sub(p.LastTypingAt) < tr.staleAfter
}
