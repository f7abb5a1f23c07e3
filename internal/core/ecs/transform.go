package ecs

import (
	"fmt"

	"github.com/stormsync/stormsync/internal/core/mathx"
)

// Transform holds an entity's position, rotation and scale.
type Transform struct {
	Position mathx.Vec3
	Rotation mathx.Quat
	Scale    mathx.Vec3
}

// NewTransform returns an identity transform (unit scale, no rotation).
func NewTransform() *Transform {
	return &Transform{
		Rotation: mathx.IdentityQuat(),
		Scale:    mathx.Vec3{X: 1, Y: 1, Z: 1},
	}
}

func (t *Transform) Kind() ComponentKind { return KindTransform }

func (t *Transform) Validate() error {
	if !t.Position.IsFinite() || !t.Rotation.IsFinite() || !t.Scale.IsFinite() {
		return fmt.Errorf("%w: transform has non-finite fields", ErrInvalidComponent)
	}
	return nil
}

func (t *Transform) Clone() Component {
	c := *t
	return &c
}

func (t *Transform) Serialize() Patch {
	return Patch{
		"position": t.Position,
		"rotation": t.Rotation,
		"scale":    t.Scale,
	}
}

func (t *Transform) Deserialize(p Patch) error {
	if v, ok := p["position"]; ok {
		vec, ok := v.(mathx.Vec3)
		if !ok {
			return fmt.Errorf("%w: position", ErrInvalidPatch)
		}
		t.Position = vec
	}
	if v, ok := p["rotation"]; ok {
		q, ok := v.(mathx.Quat)
		if !ok {
			return fmt.Errorf("%w: rotation", ErrInvalidPatch)
		}
		t.Rotation = q
	}
	if v, ok := p["scale"]; ok {
		vec, ok := v.(mathx.Vec3)
		if !ok {
			return fmt.Errorf("%w: scale", ErrInvalidPatch)
		}
		t.Scale = vec
	}
	return t.Validate()
}
