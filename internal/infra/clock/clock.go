// Package clock supplies the logical time deadlines are compared against.
package clock

import (
	"sync/atomic"
	"time"
)

// System reads wall-clock time in unix seconds.
type System struct{}

// Now returns the current unix time.
func (System) Now() uint64 { return uint64(time.Now().Unix()) }

// Manual is a clock that only moves when told to.
//
// Thread-safety: all methods are safe for concurrent use.
type Manual struct {
	now atomic.Uint64
}

// NewManual creates a manual clock starting at start.
func NewManual(start uint64) *Manual {
	c := &Manual{}
	c.now.Store(start)
	return c
}

// Now returns the current logical time.
func (c *Manual) Now() uint64 { return c.now.Load() }

// Set moves the clock to t. Moving backwards is allowed for tests that
// replay a scenario.
func (c *Manual) Set(t uint64) { c.now.Store(t) }

// Advance moves the clock forward by d seconds and returns the new time.
func (c *Manual) Advance(d uint64) uint64 { return c.now.Add(d) }
