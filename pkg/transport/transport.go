// Package transport defines the duplex message channel contract used by
// a collaboration session. One Transport instance corresponds to one
// connection attempt; reconnects construct a fresh instance via Factory.
package transport

import (
	"context"
	"errors"
)

// CloseNormal is the close code used for manual, client-initiated
// disconnects. Any other code is treated as a transport fault by the
// lifecycle layer.
const CloseNormal = 1000

var (
	ErrNotConnected  = errors.New("transport is not connected")
	ErrAlreadyDialed = errors.New("transport was already dialed")
)

// Callbacks receive connection events. OnMessage is invoked once per
// inbound frame, in delivery order, never concurrently. OnClose fires
// exactly once per successful or failed connection attempt.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnClose   func(code int, reason string)
	OnError   func(err error)
}

// Transport is a single persistent, bidirectional message connection.
//
// Dial starts connecting and returns immediately; the outcome is
// reported through the callbacks. Send writes one frame. Close tears
// the connection down with the given close code.
type Transport interface {
	Dial(ctx context.Context, url string, cb Callbacks) error
	Send(data []byte) error
	Close(code int) error
}

// Factory constructs a fresh Transport for each connection attempt.
type Factory func() Transport
