// Package hlc implements a hybrid logical clock.
//
// Timestamps are packed into a single int64: the high 48 bits carry
// physical time in milliseconds since the Unix epoch, the low 16 bits
// carry a logical counter that orders events within one millisecond.
package hlc

import (
	"sync"
	"time"
)

const logicalMask = 0xFFFF

// Clock is a monotonic hybrid logical clock. Every timestamp returned
// by Now is strictly greater than any timestamp previously returned or
// observed through Update.
type Clock struct {
	mu     sync.Mutex
	latest int64
}

// New creates a clock with no observed history.
func New() *Clock {
	return &Clock{}
}

// Now returns the next timestamp and advances the clock.
func (c *Clock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	phys := time.Now().UnixMilli()
	oldPhys := c.latest >> 16
	oldLogical := c.latest & logicalMask

	var newPhys, newLogical int64
	if phys > oldPhys {
		newPhys = phys
		newLogical = 0
	} else {
		newPhys = oldPhys
		newLogical = oldLogical + 1
	}

	// Logical overflow borrows one millisecond of physical time.
	if newLogical > logicalMask {
		newPhys++
		newLogical = 0
	}

	c.latest = (newPhys << 16) | newLogical
	return c.latest
}

// Update folds a remote timestamp into the clock so that subsequent
// Now calls sort after it. This is the HLC receive rule.
func (c *Clock) Update(remoteTs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	phys := time.Now().UnixMilli()
	remotePhys := remoteTs >> 16
	remoteLogical := remoteTs & logicalMask
	oldPhys := c.latest >> 16
	oldLogical := c.latest & logicalMask

	newPhys := oldPhys
	if remotePhys > newPhys {
		newPhys = remotePhys
	}
	if phys > newPhys {
		newPhys = phys
	}

	var newLogical int64
	switch {
	case newPhys == oldPhys && newPhys == remotePhys:
		if oldLogical > remoteLogical {
			newLogical = oldLogical + 1
		} else {
			newLogical = remoteLogical + 1
		}
	case newPhys == oldPhys:
		newLogical = oldLogical + 1
	case newPhys == remotePhys:
		newLogical = remoteLogical + 1
	default:
		newLogical = 0
	}

	if newLogical > logicalMask {
		newPhys++
		newLogical = 0
	}

	c.latest = (newPhys << 16) | newLogical
}

// Physical returns the physical half of a timestamp in Unix millis.
func Physical(ts int64) int64 {
	return ts >> 16
}

// Logical returns the logical counter half of a timestamp.
func Logical(ts int64) int16 {
	return int16(ts & logicalMask)
}

// Compare returns 1 if a > b, -1 if a < b, 0 if equal.
func Compare(a, b int64) int {
	if a > b {
		return 1
	}
	if a < b {
		return -1
	}
	return 0
}
