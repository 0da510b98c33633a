package clock

import "time"

// Clock abstracts the wall clock so lifecycle timestamps and billing
// durations are testable.
type Clock interface {
	Now() time.Time
}

// DefaultClock implements the Clock interface using the system clock
type DefaultClock struct{}

// Now returns the current time
func (c *DefaultClock) Now() time.Time {
	return time.Now()
}
