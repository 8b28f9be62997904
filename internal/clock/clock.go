// Package clock provides the explicit time capability passed into the router
// and the ledger engine. Nothing in the core reads ambient wall-clock time;
// hours-before-departure math always goes through a Clock so tests and seeded
// demo data can pin "now".
package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// System is the real wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Fixed always reports the same instant.
type Fixed struct {
	T time.Time
}

func (f Fixed) Now() time.Time { return f.T }

// At is shorthand for a Fixed clock at t.
func At(t time.Time) Fixed { return Fixed{T: t} }
