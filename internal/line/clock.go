package line

import (
	"runtime"
	"time"
)

// Clock provides the time base for bit pacing.
type Clock interface {
	Now() time.Time
	SleepUntil(deadline time.Time)
}

// spinWindow is the part of every wait that is busy-waited instead of slept.
// The scheduler wakes up late by tens of microseconds, half-periods are 58us.
const spinWindow = 150 * time.Microsecond

// SystemClock sleeps for the bulk of a wait and spins for the rest.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

func (SystemClock) SleepUntil(deadline time.Time) {
	if d := time.Until(deadline); d > spinWindow {
		time.Sleep(d - spinWindow)
	}
	for time.Now().Before(deadline) {
		runtime.Gosched()
	}
}
