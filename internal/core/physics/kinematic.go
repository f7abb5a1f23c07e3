package physics

import (
	"math"
	"sort"

	"github.com/stormsync/stormsync/internal/core/mathx"
)

var _ Engine = (*Kinematic)(nil)

// Kinematic is the in-tree Engine implementation: semi-implicit Euler
// integration, a static ground plane at y=0 and AABB overlap collision
// events. It exists so the module runs and tests deterministically without an
// external engine; a full-featured engine drops in behind the same contract.
type Kinematic struct {
	gravity    mathx.Vec3
	nextID     BodyID
	bodies     map[BodyID]*kinematicBody
	collisions []CollisionPair
	ready      bool
}

type kinematicBody struct {
	desc BodyDesc
	pos  mathx.Vec3
	rot  mathx.Quat
	vel  mathx.Vec3
}

func NewKinematic() *Kinematic {
	return &Kinematic{bodies: make(map[BodyID]*kinematicBody)}
}

func (k *Kinematic) Init(gravity mathx.Vec3) error {
	k.gravity = gravity
	k.ready = true
	return nil
}

func (k *Kinematic) CreateBody(desc BodyDesc) (BodyID, error) {
	if !k.ready {
		return 0, ErrEngineUnavailable
	}
	k.nextID++
	id := k.nextID
	k.bodies[id] = &kinematicBody{
		desc: desc,
		pos:  desc.Position,
		rot:  desc.Rotation,
		vel:  desc.Velocity,
	}
	return id, nil
}

func (k *Kinematic) RemoveBody(id BodyID) {
	delete(k.bodies, id)
}

func (k *Kinematic) State(id BodyID) (BodyState, bool) {
	b, ok := k.bodies[id]
	if !ok {
		return BodyState{}, false
	}
	return BodyState{Position: b.pos, Rotation: b.rot, Velocity: b.vel}, true
}

func (k *Kinematic) SetLinearVelocity(id BodyID, v mathx.Vec3) {
	if b, ok := k.bodies[id]; ok && !b.desc.Static {
		b.vel = v
	}
}

func (k *Kinematic) ApplyImpulse(id BodyID, impulse mathx.Vec3) {
	b, ok := k.bodies[id]
	if !ok || b.desc.Static || b.desc.Mass <= 0 {
		return
	}
	b.vel = b.vel.Add(impulse.Scale(1 / b.desc.Mass))
}

func (k *Kinematic) SetTranslation(id BodyID, pos mathx.Vec3) {
	if b, ok := k.bodies[id]; ok {
		b.pos = pos
	}
}

func (k *Kinematic) SetRotation(id BodyID, rot mathx.Quat) {
	if b, ok := k.bodies[id]; ok {
		b.rot = rot.Normalize()
	}
}

func (k *Kinematic) Step(dt float64) {
	if !k.ready || dt <= 0 {
		return
	}
	for _, b := range k.bodies {
		if b.desc.Static {
			continue
		}
		if b.desc.UseGravity {
			b.vel = b.vel.Add(k.gravity.Scale(dt))
		}
		b.pos = b.pos.Add(b.vel.Scale(dt))

		// Ground plane at y=0: clamp, bounce by restitution, damp
		// horizontal motion by friction.
		bottom := b.pos.Y + b.desc.Collider.Offset.Y - b.desc.Collider.Size.Y/2
		if bottom < 0 {
			b.pos.Y -= bottom
			if b.vel.Y < 0 {
				b.vel.Y = -b.vel.Y * b.desc.Restitution
				if math.Abs(b.vel.Y) < 1e-3 {
					b.vel.Y = 0
				}
				damp := 1 - b.desc.Friction*dt
				if damp < 0 {
					damp = 0
				}
				b.vel.X *= damp
				b.vel.Z *= damp
			}
		}
	}
	k.recordOverlaps()
}

// recordOverlaps appends an event for every overlapping body pair. Pair order
// is deterministic (ascending ids) so tests and collision resolution are
// stable.
func (k *Kinematic) recordOverlaps() {
	ids := make([]BodyID, 0, len(k.bodies))
	for id := range k.bodies {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := k.bodies[ids[i]], k.bodies[ids[j]]
			if a.desc.Static && b.desc.Static {
				continue
			}
			if aabbOverlap(a, b) {
				k.collisions = append(k.collisions, CollisionPair{A: ids[i], B: ids[j]})
			}
		}
	}
}

func (k *Kinematic) DrainCollisions() []CollisionPair {
	out := k.collisions
	k.collisions = nil
	return out
}

func (k *Kinematic) CastRay(origin, dir mathx.Vec3, maxDist float64) (RayHit, bool) {
	l := dir.Length()
	if l == 0 || maxDist <= 0 {
		return RayHit{}, false
	}
	dir = dir.Scale(1 / l)

	best := RayHit{Distance: math.Inf(1)}
	found := false
	for id, b := range k.bodies {
		if t, ok := rayAABB(origin, dir, b); ok && t <= maxDist && t < best.Distance {
			best = RayHit{Body: id, Distance: t}
			found = true
		}
	}
	// Ground plane counts as a hit with no body handle. A slight negative
	// origin still hits at distance zero so bodies resting on the plane probe
	// as grounded.
	if dir.Y < 0 && origin.Y >= -1e-3 {
		t := math.Max(origin.Y, 0) / -dir.Y
		if t <= maxDist && t < best.Distance {
			best = RayHit{Distance: t}
			found = true
		}
	}
	if !found {
		return RayHit{}, false
	}
	return best, true
}

func (k *Kinematic) Close() {
	k.bodies = make(map[BodyID]*kinematicBody)
	k.collisions = nil
	k.ready = false
}

func aabbOverlap(a, b *kinematicBody) bool {
	amin, amax := bounds(a)
	bmin, bmax := bounds(b)
	return amin.X <= bmax.X && amax.X >= bmin.X &&
		amin.Y <= bmax.Y && amax.Y >= bmin.Y &&
		amin.Z <= bmax.Z && amax.Z >= bmin.Z
}

func bounds(b *kinematicBody) (mathx.Vec3, mathx.Vec3) {
	center := b.pos.Add(b.desc.Collider.Offset)
	half := b.desc.Collider.Size.Scale(0.5)
	return center.Sub(half), center.Add(half)
}

// rayAABB is the slab test; returns the entry distance along the ray.
func rayAABB(origin, dir mathx.Vec3, b *kinematicBody) (float64, bool) {
	bmin, bmax := bounds(b)
	tmin, tmax := 0.0, math.Inf(1)

	for _, axis := range [3][3]float64{
		{origin.X, dir.X, 0}, {origin.Y, dir.Y, 1}, {origin.Z, dir.Z, 2},
	} {
		o, d := axis[0], axis[1]
		var lo, hi float64
		switch axis[2] {
		case 0:
			lo, hi = bmin.X, bmax.X
		case 1:
			lo, hi = bmin.Y, bmax.Y
		default:
			lo, hi = bmin.Z, bmax.Z
		}
		if math.Abs(d) < 1e-12 {
			if o < lo || o > hi {
				return 0, false
			}
			continue
		}
		t1, t2 := (lo-o)/d, (hi-o)/d
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin = math.Max(tmin, t1)
		tmax = math.Min(tmax, t2)
		if tmin > tmax {
			return 0, false
		}
	}
	return tmin, true
}
