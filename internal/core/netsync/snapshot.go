package netsync

import (
	"time"

	"github.com/stormsync/stormsync/internal/core/ecs"
	"github.com/stormsync/stormsync/internal/core/mathx"
	"github.com/stormsync/stormsync/internal/core/wire"
)

// Snapshot is an immutable, timestamped projection of one entity's
// replicated components, identified by network id. The Mask says which slots
// carry real data; the rest sit at wire defaults.
type Snapshot struct {
	NetworkID string
	Timestamp time.Time
	Mask      uint8

	Position mathx.Vec3
	Rotation mathx.Quat
	Scale    mathx.Vec3

	Velocity mathx.Vec3

	Color ecs.Color

	Authority ecs.Authority
	InputSeq  uint32
}

// Capture projects the entity's current components into a snapshot. Returns
// false for entities without a Network component.
func Capture(reg *ecs.Registry, id ecs.EntityID, now time.Time) (Snapshot, bool) {
	net, ok := reg.Network(id)
	if !ok {
		return Snapshot{}, false
	}
	s := Snapshot{
		NetworkID: net.NetworkID,
		Timestamp: now,
		Rotation:  mathx.IdentityQuat(),
		Scale:     mathx.Vec3{X: 1, Y: 1, Z: 1},
		Color:     ecs.White,
	}

	s.Mask |= wire.MaskNetwork
	s.Authority = net.Authority
	s.InputSeq = net.LastProcessedInputSeq

	if tr, ok := reg.Transform(id); ok {
		s.Mask |= wire.MaskTransform
		s.Position = tr.Position
		s.Rotation = tr.Rotation
		s.Scale = tr.Scale
	}
	if phys, ok := reg.Physics(id); ok {
		s.Mask |= wire.MaskPhysics
		s.Velocity = phys.Velocity
	}
	if rnd, ok := reg.Render(id); ok {
		s.Mask |= wire.MaskRender
		s.Color = rnd.Material.Color
	}
	return s, true
}

// Record converts the snapshot into its wire form.
func (s Snapshot) Record() wire.Record {
	return wire.Record{
		ID:        wire.IDFor(s.NetworkID),
		Mask:      s.Mask,
		Position:  s.Position,
		Rotation:  s.Rotation,
		Scale:     s.Scale,
		Velocity:  s.Velocity,
		Color:     s.Color,
		Authority: s.Authority,
		InputSeq:  s.InputSeq,
	}
}

// FromRecord rebuilds a snapshot from a decoded wire record and its resolved
// network id.
func FromRecord(networkID string, ts time.Time, r wire.Record) Snapshot {
	return Snapshot{
		NetworkID: networkID,
		Timestamp: ts,
		Mask:      r.Mask,
		Position:  r.Position,
		Rotation:  r.Rotation,
		Scale:     r.Scale,
		Velocity:  r.Velocity,
		Color:     r.Color,
		Authority: r.Authority,
		InputSeq:  r.InputSeq,
	}
}
