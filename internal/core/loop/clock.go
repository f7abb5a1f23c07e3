package loop

import "time"

// Clock abstracts time so tests drive the loop deterministically.
type Clock interface {
	Now() time.Time
}

// WallClock is the production clock.
type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now() }

// ManualClock advances only when told to. Not safe for concurrent use; tests
// step the loop synchronously.
type ManualClock struct {
	t time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{t: start}
}

func (c *ManualClock) Now() time.Time { return c.t }

func (c *ManualClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
