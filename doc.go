// The [collab] package is a client SDK for real-time collaborative note
// editing over a websocket channel.
//
// # Sessions
//
// A [Session] owns one logical collaboration session per open note. It
// wires together the connection lifecycle state machine
// ([github.com/collabnotes/collabnotes.go/pkg/lifecycle]), the outbound
// throttler ([github.com/collabnotes/collabnotes.go/pkg/throttle]), the
// inbound dispatcher ([github.com/collabnotes/collabnotes.go/pkg/dispatch])
// and the presence roster
// ([github.com/collabnotes/collabnotes.go/pkg/presence]).
//
// Open a session with [Session.Open]; local edits flow through
// [Session.EditTitleOrBody], [Session.UpdateCursor] and
// [Session.NotifyTyping], which coalesce traffic per channel before it
// reaches the wire. Remote activity arrives through the [Handlers]
// callbacks.
//
// # Connection behavior
//
// The channel reconnects automatically with a flat delay after
// non-manual closures, up to a bounded attempt count, and re-joins the
// note on every successful open. Sends while disconnected are dropped,
// not queued; the next local edit re-broadcasts current state. Document
// updates are last-writer-wins, with self-echoes suppressed so delayed
// reflections of local edits never clobber newer keystrokes.
//
// # Durable state
//
// Durable reads and writes go through the HTTP client in
// [github.com/collabnotes/collabnotes.go/pkg/notes]. When a save is
// requested while the channel is down, [Session.RequestSave] degrades
// to a plain CRUD update over that client.
package collab
