package netsync

import (
	"sort"
	"time"
)

// interpBuffer is a bounded, timestamp-ordered queue of snapshots for one
// observed entity. Delivery may reorder packets, so insertion keeps order
// instead of appending. Oldest entries evict first.
type interpBuffer struct {
	capacity  int
	snapshots []Snapshot
	lastTouch time.Time
}

func newInterpBuffer(capacity int) *interpBuffer {
	return &interpBuffer{capacity: capacity}
}

func (b *interpBuffer) insert(s Snapshot) {
	i := sort.Search(len(b.snapshots), func(i int) bool {
		return b.snapshots[i].Timestamp.After(s.Timestamp)
	})
	b.snapshots = append(b.snapshots, Snapshot{})
	copy(b.snapshots[i+1:], b.snapshots[i:])
	b.snapshots[i] = s
	if len(b.snapshots) > b.capacity {
		b.snapshots = b.snapshots[len(b.snapshots)-b.capacity:]
	}
	b.lastTouch = s.Timestamp
}

// bracket finds the pair around renderTime such that
// before.Timestamp <= renderTime < after.Timestamp. A miss (too few entries
// or renderTime outside the buffered range) reports false; callers skip the
// tick rather than extrapolate.
func (b *interpBuffer) bracket(renderTime time.Time) (before, after Snapshot, ok bool) {
	if len(b.snapshots) < 2 {
		return Snapshot{}, Snapshot{}, false
	}
	i := sort.Search(len(b.snapshots), func(i int) bool {
		return b.snapshots[i].Timestamp.After(renderTime)
	})
	if i == 0 || i == len(b.snapshots) {
		return Snapshot{}, Snapshot{}, false
	}
	return b.snapshots[i-1], b.snapshots[i], true
}

func (b *interpBuffer) len() int { return len(b.snapshots) }
