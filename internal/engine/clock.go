package engine

import "time"

// Clock abstracts wall-clock reads so deadline guards are testable. Deadlines
// are passive: nothing fires on its own, a transition only happens when some
// caller invokes the corresponding method after the deadline has passed.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }
