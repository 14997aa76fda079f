// Package clock provides the millisecond time source and the
// single "delay N ms" scheduling primitive that the rest of the module
// builds on. It exists so tests can fast-forward through idle/active
// timeouts instead of sleeping real wall-clock seconds.
package clock

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Clock is the subset of github.com/benbjohnson/clock.Clock this module
// depends on. A real Clock is backed by the OS monotonic clock; tests
// substitute clock.NewMock() and advance it deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) *clock.Timer
}

// New returns the production Clock, backed by the real OS clock.
func New() Clock {
	return clock.New()
}

// NewMock returns a Clock under full manual control, for deterministic
// tests of the sweeper cadence and the four timeout families.
func NewMock() *clock.Mock {
	return clock.NewMock()
}

// NowMillis returns c.Now() as Unix milliseconds, the unit every
// deadline in this module is expressed in. It is taken from the wall
// clock reading, so it is not monotonic: a step of the system clock
// moves it.
func NowMillis(c Clock) int64 {
	return c.Now().UnixMilli()
}
