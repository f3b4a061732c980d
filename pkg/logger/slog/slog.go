// Package slog adapts a log/slog handler to the logger.Logger
// interface, for embedders that already route their logs through
// slog instead of zerolog.
package slog

import (
	"log/slog"

	"github.com/collabnotes/collabnotes.go/pkg/logger"
)

// Adapter forwards each log level to an underlying slog.Logger,
// passing the key/value args through unchanged.
type Adapter struct {
	log *slog.Logger
}

var _ logger.Logger = (*Adapter)(nil)

// New wraps a slog.Handler. A nil handler falls back to slog's
// default.
func New(h slog.Handler) *Adapter {
	if h == nil {
		return &Adapter{log: slog.Default()}
	}
	return &Adapter{log: slog.New(h)}
}

func (a *Adapter) Debug(msg string, args ...any) { a.log.Debug(msg, args...) }
func (a *Adapter) Info(msg string, args ...any)  { a.log.Info(msg, args...) }
func (a *Adapter) Warn(msg string, args ...any)  { a.log.Warn(msg, args...) }
func (a *Adapter) Error(msg string, args ...any) { a.log.Error(msg, args...) }
