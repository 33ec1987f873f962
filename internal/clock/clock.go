package clock

import "time"

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

// System returns the UTC wall clock.
func System() Clock { return SystemClock{} }

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Fixed always reports the same instant. Tests advance it by reassigning.
type Fixed struct {
	At time.Time
}

func (f *Fixed) Now() time.Time { return f.At }

func (f *Fixed) Advance(d time.Duration) { f.At = f.At.Add(d) }
