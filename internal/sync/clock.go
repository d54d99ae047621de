package sync

import "time"

// Clock abstracts time for the convergence detector and coordinator so tests
// can drive sampling without real sleeps.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the production clock.
var SystemClock Clock = systemClock{}
