package clock

import (
	"sync"
	"time"
)

// MinValid is the earliest timestamp considered a real, initialized value.
// Stored dates before it are treated as unset.
var MinValid = time.Date(1753, time.January, 1, 0, 0, 0, 0, time.UTC)

// Clock is the wall-clock time source used by the allocation services
type Clock interface {
	Now() time.Time
}

// IsUnset reports whether t is zero or earlier than MinValid
func IsUnset(t time.Time) bool {
	return t.IsZero() || t.Before(MinValid)
}

// Real reads the system clock
type Real struct{}

// Now returns the current UTC time
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Fake is a manually driven clock for tests
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock set to now
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

// Now returns the fake's current time
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the fake clock to t
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// Advance moves the fake clock forward by d
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
