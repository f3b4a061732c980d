// Package clock provides an injectable timer source so that components
// scheduling cancellable callbacks (throttling, retry backoff, typing
// expiry) can be driven deterministically in tests.
package clock

import "time"

// Timer is a single scheduled callback. Stop reports whether the call
// was prevented from firing.
type Timer interface {
	Stop() bool
}

// Clock creates timers and reads the current time.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

type systemClock struct{}

// System returns a Clock backed by the time package.
func System() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
