package domain

import "time"

// Clock provides the current time. Token expiry checks and key-set
// freshness read time through a Clock so tests can control it.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system clock.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time {
	return time.Now()
}

var _ Clock = RealClock{}
