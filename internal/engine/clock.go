package engine

import "time"

// Clock supplies ledger timestamps.
//
// Production uses SystemClock. Tests inject a fixed clock so ledger rows and
// golden traces are reproducible.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
