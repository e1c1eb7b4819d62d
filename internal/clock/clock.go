package clock

import "time"

// Clock is the single authority for "now" in expiry decisions. Components
// must never compare deadlines against a timestamp cached earlier than the
// comparison itself; they take a Clock and read it at decision time.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Remaining reports the time left until deadline, clamped at zero.
func Remaining(c Clock, deadline time.Time) time.Duration {
	d := deadline.Sub(c.Now())
	if d < 0 {
		return 0
	}
	return d
}
