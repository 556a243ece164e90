package ingest

import (
	"sync/atomic"
)

// Cursor holds the resume position of a feed subscription.  It is safe for concurrent use: any number of workers
// may Advance it while the feed owner reads it with Get.  The value only ever moves forward, so concurrent writers
// cannot regress it to an older sequence number.
type Cursor struct {
	value atomic.Int64
}

func NewCursor(start int64) *Cursor {
	c := &Cursor{}
	c.value.Store(start)
	return c
}

func (c *Cursor) Get() int64 {
	return c.value.Load()
}

// Advance moves the cursor to seq if seq is greater than the current value.  It returns true if the cursor moved.
func (c *Cursor) Advance(seq int64) bool {
	for {
		current := c.value.Load()
		if seq <= current {
			return false
		}
		if c.value.CompareAndSwap(current, seq) {
			return true
		}
	}
}

// IsCheckpoint reports whether seq is a position at which the cursor should be advanced
func IsCheckpoint(seq int64, interval int64) bool {
	if interval <= 0 {
		return false
	}
	return seq%interval == 0
}
