// Package physics maps ECS entities onto an external physics engine through
// a narrow step/query contract and copies simulation results back into
// components. The engine's collision and solver internals are opaque to the
// rest of the core; any implementation of Engine is substitutable.
package physics

import (
	"errors"

	"github.com/stormsync/stormsync/internal/core/ecs"
	"github.com/stormsync/stormsync/internal/core/mathx"
)

var (
	ErrEngineUnavailable = errors.New("physics engine unavailable")
	ErrBodyLimitReached  = errors.New("body limit reached")
)

// BodyID is an opaque engine-side handle.
type BodyID uint64

// BodyDesc describes a body and its collider at creation time.
type BodyDesc struct {
	Position    mathx.Vec3
	Rotation    mathx.Quat
	Velocity    mathx.Vec3
	Mass        float64
	Static      bool
	UseGravity  bool
	Collider    ecs.Collider
	Friction    float64
	Restitution float64
}

// BodyState is the engine's post-step view of a body.
type BodyState struct {
	Position mathx.Vec3
	Rotation mathx.Quat
	Velocity mathx.Vec3
}

// CollisionPair reports two bodies that touched during a step.
type CollisionPair struct {
	A, B BodyID
}

// RayHit reports the nearest intersection of a ray cast.
type RayHit struct {
	Body     BodyID
	Distance float64
}

// Engine is the simulation collaborator contract. Step is synchronous and
// blocking; no body may be mutated externally while a step is in flight.
type Engine interface {
	// Init creates the simulation world with the given gravity. Must be
	// called before any other method.
	Init(gravity mathx.Vec3) error

	Step(dt float64)

	CreateBody(desc BodyDesc) (BodyID, error)
	RemoveBody(id BodyID)

	State(id BodyID) (BodyState, bool)

	SetLinearVelocity(id BodyID, v mathx.Vec3)
	ApplyImpulse(id BodyID, impulse mathx.Vec3)
	SetTranslation(id BodyID, pos mathx.Vec3)
	SetRotation(id BodyID, rot mathx.Quat)

	// CastRay returns the nearest hit along dir (unit length not required)
	// within maxDist, testing bodies and the static ground.
	CastRay(origin, dir mathx.Vec3, maxDist float64) (RayHit, bool)

	// DrainCollisions returns and clears the collision events recorded since
	// the previous drain.
	DrainCollisions() []CollisionPair

	Close()
}
