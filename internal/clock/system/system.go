// Package system provides the wall clock used for engine uptime reports.
package system

import "time"

// Clock reads the current time from the operating system.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
