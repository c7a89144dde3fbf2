package sender

import (
	"math"
	"sync/atomic"
)

// TeleportIDs allocates position-sync correlation ids. Ids are positive,
// increase by one, and wrap from math.MaxInt32 to 1; 0 is never returned.
// The zero value starts at 1.
type TeleportIDs struct {
	last atomic.Int32
}

// Next returns the next id.
func (t *TeleportIDs) Next() int32 {
	for {
		cur := t.last.Load()
		next := int32(1)
		if cur > 0 && cur < math.MaxInt32 {
			next = cur + 1
		}
		if t.last.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// Reset makes the following Next return v+1 (or 1 when v is
// math.MaxInt32 or not positive).
func (t *TeleportIDs) Reset(v int32) {
	t.last.Store(v)
}
