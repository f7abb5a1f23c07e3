package ecs

import (
	"fmt"
	"math"

	"github.com/stormsync/stormsync/internal/core/mathx"
)

// ColliderType enumerates supported collider shapes.
type ColliderType uint8

const (
	ColliderBox ColliderType = iota
	ColliderSphere
	ColliderCapsule
)

// Collider describes an entity's collision volume.
type Collider struct {
	Type   ColliderType
	Size   mathx.Vec3
	Offset mathx.Vec3
}

// Physics holds an entity's dynamic state and simulation parameters.
type Physics struct {
	Velocity     mathx.Vec3
	Acceleration mathx.Vec3
	Mass         float64
	Static       bool
	UseGravity   bool
	Collider     Collider
	Friction     float64
	Restitution  float64
}

// NewPhysics returns a unit-mass dynamic body with a 1x1x1 box collider.
func NewPhysics() *Physics {
	return &Physics{
		Mass:       1,
		UseGravity: true,
		Collider:   Collider{Type: ColliderBox, Size: mathx.Vec3{X: 1, Y: 1, Z: 1}},
		Friction:   0.5,
	}
}

func (p *Physics) Kind() ComponentKind { return KindPhysics }

func (p *Physics) Validate() error {
	if !p.Velocity.IsFinite() || !p.Acceleration.IsFinite() {
		return fmt.Errorf("%w: physics has non-finite motion fields", ErrInvalidComponent)
	}
	if math.IsNaN(p.Mass) || p.Mass < 0 {
		return fmt.Errorf("%w: mass %v", ErrInvalidComponent, p.Mass)
	}
	if p.Friction < 0 || p.Friction > 1 || p.Restitution < 0 || p.Restitution > 1 {
		return fmt.Errorf("%w: friction/restitution outside [0,1]", ErrInvalidComponent)
	}
	if !p.Collider.Size.IsFinite() || !p.Collider.Offset.IsFinite() {
		return fmt.Errorf("%w: collider has non-finite fields", ErrInvalidComponent)
	}
	return nil
}

func (p *Physics) Clone() Component {
	c := *p
	return &c
}

func (p *Physics) Serialize() Patch {
	return Patch{
		"velocity":     p.Velocity,
		"acceleration": p.Acceleration,
		"mass":         p.Mass,
		"static":       p.Static,
		"useGravity":   p.UseGravity,
		"collider":     p.Collider,
		"friction":     p.Friction,
		"restitution":  p.Restitution,
	}
}

func (p *Physics) Deserialize(patch Patch) error {
	if v, ok := patch["velocity"]; ok {
		vec, ok := v.(mathx.Vec3)
		if !ok {
			return fmt.Errorf("%w: velocity", ErrInvalidPatch)
		}
		p.Velocity = vec
	}
	if v, ok := patch["acceleration"]; ok {
		vec, ok := v.(mathx.Vec3)
		if !ok {
			return fmt.Errorf("%w: acceleration", ErrInvalidPatch)
		}
		p.Acceleration = vec
	}
	if v, ok := patch["mass"]; ok {
		f, ok := v.(float64)
		if !ok {
			return fmt.Errorf("%w: mass", ErrInvalidPatch)
		}
		p.Mass = f
	}
	if v, ok := patch["static"]; ok {
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("%w: static", ErrInvalidPatch)
		}
		p.Static = b
	}
	if v, ok := patch["useGravity"]; ok {
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("%w: useGravity", ErrInvalidPatch)
		}
		p.UseGravity = b
	}
	if v, ok := patch["collider"]; ok {
		c, ok := v.(Collider)
		if !ok {
			return fmt.Errorf("%w: collider", ErrInvalidPatch)
		}
		p.Collider = c
	}
	if v, ok := patch["friction"]; ok {
		f, ok := v.(float64)
		if !ok {
			return fmt.Errorf("%w: friction", ErrInvalidPatch)
		}
		p.Friction = f
	}
	if v, ok := patch["restitution"]; ok {
		f, ok := v.(float64)
		if !ok {
			return fmt.Errorf("%w: restitution", ErrInvalidPatch)
		}
		p.Restitution = f
	}
	return p.Validate()
}
