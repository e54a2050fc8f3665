package staking

import "time"

// Clock supplies the current time in unix seconds. Every operation reads it
// exactly once.
type Clock interface {
	Now() int64
}

// SystemClock reads the wall clock
type SystemClock struct{}

// Now returns the current unix time
func (SystemClock) Now() int64 {
	return time.Now().Unix()
}

// ClockFunc adapts a function to the Clock interface
type ClockFunc func() int64

// Now calls f
func (f ClockFunc) Now() int64 {
	return f()
}
