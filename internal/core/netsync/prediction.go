package netsync

import "github.com/stormsync/stormsync/internal/core/wire"

// inputLog retains input frames for a controlled entity until the
// authoritative side acknowledges them. Entries stay in sequence order;
// reconciliation replays them over the corrected state.
type inputLog struct {
	capacity int
	frames   []wire.InputFrame
}

func newInputLog(capacity int) *inputLog {
	return &inputLog{capacity: capacity}
}

func (l *inputLog) append(in wire.InputFrame) {
	l.frames = append(l.frames, in)
	if len(l.frames) > l.capacity {
		l.frames = l.frames[len(l.frames)-l.capacity:]
	}
}

// prune drops every frame the authoritative side has already applied
// (sequence <= ack). Pruned frames are never replayed.
func (l *inputLog) prune(ack uint32) {
	keep := l.frames[:0]
	for _, f := range l.frames {
		if f.Seq > ack {
			keep = append(keep, f)
		}
	}
	l.frames = keep
}

// pending returns the unacknowledged frames in sequence order.
func (l *inputLog) pending() []wire.InputFrame {
	return l.frames
}

func (l *inputLog) len() int { return len(l.frames) }
