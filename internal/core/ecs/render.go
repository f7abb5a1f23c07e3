package ecs

import (
	"fmt"

	"github.com/stormsync/stormsync/internal/core/mathx"
)

// Color is an 8-bit RGB triple, matching the wire representation.
type Color struct {
	R, G, B uint8
}

// White is the wire default for entities without render data.
var White = Color{R: 255, G: 255, B: 255}

// Mesh references renderable geometry by name. Asset resolution happens
// outside the core.
type Mesh struct {
	Geometry string
	Scale    mathx.Vec3
}

// Material holds surface appearance parameters.
type Material struct {
	Color   Color
	Texture string
	Opacity float64
}

// Render holds an entity's presentation state. The core only replicates it;
// drawing is an external concern.
type Render struct {
	Mesh     Mesh
	Material Material
	Visible  bool
}

func NewRender() *Render {
	return &Render{
		Mesh:     Mesh{Geometry: "box", Scale: mathx.Vec3{X: 1, Y: 1, Z: 1}},
		Material: Material{Color: White, Opacity: 1},
		Visible:  true,
	}
}

func (r *Render) Kind() ComponentKind { return KindRender }

func (r *Render) Validate() error {
	if !r.Mesh.Scale.IsFinite() {
		return fmt.Errorf("%w: mesh scale has non-finite fields", ErrInvalidComponent)
	}
	if r.Material.Opacity < 0 || r.Material.Opacity > 1 {
		return fmt.Errorf("%w: opacity %v outside [0,1]", ErrInvalidComponent, r.Material.Opacity)
	}
	return nil
}

func (r *Render) Clone() Component {
	c := *r
	return &c
}

func (r *Render) Serialize() Patch {
	return Patch{
		"mesh":     r.Mesh,
		"material": r.Material,
		"visible":  r.Visible,
	}
}

func (r *Render) Deserialize(p Patch) error {
	if v, ok := p["mesh"]; ok {
		m, ok := v.(Mesh)
		if !ok {
			return fmt.Errorf("%w: mesh", ErrInvalidPatch)
		}
		r.Mesh = m
	}
	if v, ok := p["material"]; ok {
		m, ok := v.(Material)
		if !ok {
			return fmt.Errorf("%w: material", ErrInvalidPatch)
		}
		r.Material = m
	}
	if v, ok := p["visible"]; ok {
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("%w: visible", ErrInvalidPatch)
		}
		r.Visible = b
	}
	return r.Validate()
}
