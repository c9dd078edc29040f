package ra

import (
	"sync"
	"time"
)

// Clock hands out the local wall-clock timestamps RequestCS tags its
// requests with. Unlike a Lamport clock it never advances from a remote
// timestamp, but it does guarantee successive calls from the same process
// never return the same value twice, which keeps tie-breaking rare without
// requiring any causal bookkeeping.
type Clock struct {
	mu   sync.Mutex
	last float64
}

// NewClock returns a ready-to-use Clock.
func NewClock() *Clock {
	return &Clock{}
}

// Now returns the current wall-clock time in fractional seconds, strictly
// greater than any value this Clock has previously returned.
func (c *Clock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := float64(time.Now().UnixNano()) / 1e9
	if now <= c.last {
		now = c.last + 1e-6
	}
	c.last = now
	return now
}
