package physics

import (
	"github.com/stormsync/stormsync/internal/core/ecs"
	"github.com/stormsync/stormsync/internal/core/mathx"
	"github.com/stormsync/stormsync/internal/core/observability"
	"github.com/stormsync/stormsync/internal/core/observability/log"
)

var _ ecs.System = (*Bridge)(nil)

// groundProbe is how far below the collider the grounded ray reaches.
const groundProbe = 0.15

// Bridge maps qualifying entities to engine bodies, advances the engine each
// tick and pulls results back into Transform/Physics components. The write
// direction is strictly engine -> components within a tick; the engine is
// never re-read from stale component data.
type Bridge struct {
	registry *ecs.Registry
	engine   Engine
	role     ecs.Role
	localID  string
	sink     observability.Sink
	logger   log.Log

	bodies map[ecs.EntityID]BodyID
	byBody map[BodyID]ecs.EntityID

	// available flips false when the engine fails to initialize. The bridge
	// then freezes its entities while the rest of the loop keeps ticking.
	available bool
}

func NewBridge(registry *ecs.Registry, engine Engine, role ecs.Role, localID string, gravity mathx.Vec3, sink observability.Sink, logger log.Log) *Bridge {
	b := &Bridge{
		registry: registry,
		engine:   engine,
		role:     role,
		localID:  localID,
		sink:     sink,
		logger:   logger.With(log.String("component", "physics_bridge")),
		bodies:   make(map[ecs.EntityID]BodyID),
		byBody:   make(map[BodyID]ecs.EntityID),
	}
	if err := engine.Init(gravity); err != nil {
		b.logger.Error("physics engine failed to initialize, bridge disabled", log.Error(err))
		return b
	}
	b.available = true
	return b
}

func (b *Bridge) Name() string { return "physics_bridge" }

// ShouldProcess accepts entities with Transform and Physics components,
// excluding only remote, non-server-validated dynamic bodies. Authority alone
// never exempts an entity: server-authoritative, static and locally
// controlled client-authoritative entities all simulate here.
func (b *Bridge) ShouldProcess(id ecs.EntityID) bool {
	if !b.registry.Has(id, ecs.KindTransform, ecs.KindPhysics) {
		return false
	}
	phys, _ := b.registry.Physics(id)
	if phys.Static {
		return true
	}
	net, ok := b.registry.Network(id)
	if !ok {
		return true
	}
	if net.Authority == ecs.AuthorityServer {
		return true
	}
	// Client authority: the server simulates it for validation, the owning
	// client simulates it for prediction. Everyone else only observes.
	if b.role == ecs.RoleServer {
		return true
	}
	return net.Owner == b.localID
}

func (b *Bridge) Add(id ecs.EntityID) {
	if !b.available {
		return
	}
	if _, mapped := b.bodies[id]; mapped {
		return
	}
	tr, _ := b.registry.Transform(id)
	phys, _ := b.registry.Physics(id)
	bodyID, err := b.engine.CreateBody(BodyDesc{
		Position:    tr.Position,
		Rotation:    tr.Rotation,
		Velocity:    phys.Velocity,
		Mass:        phys.Mass,
		Static:      phys.Static,
		UseGravity:  phys.UseGravity,
		Collider:    phys.Collider,
		Friction:    phys.Friction,
		Restitution: phys.Restitution,
	})
	if err != nil {
		b.logger.Error("body creation failed", log.Uint64("entity", uint64(id)), log.Error(err))
		return
	}
	b.bodies[id] = bodyID
	b.byBody[bodyID] = id
}

// Remove releases the engine body before dropping the ECS-side mapping so no
// dangling engine handle survives.
func (b *Bridge) Remove(id ecs.EntityID) {
	bodyID, ok := b.bodies[id]
	if !ok {
		return
	}
	b.engine.RemoveBody(bodyID)
	delete(b.byBody, bodyID)
	delete(b.bodies, id)
}

func (b *Bridge) Update(dt float64) {
	if !b.available {
		return
	}
	b.engine.Step(dt)

	for id, bodyID := range b.bodies {
		phys, ok := b.registry.Physics(id)
		if !ok || phys.Static {
			continue
		}
		state, ok := b.engine.State(bodyID)
		if !ok {
			continue
		}
		if tr, ok := b.registry.Transform(id); ok {
			tr.Position = state.Position
			tr.Rotation = state.Rotation
		}
		phys.Velocity = state.Velocity
	}

	for _, pair := range b.engine.DrainCollisions() {
		a, okA := b.byBody[pair.A]
		c, okB := b.byBody[pair.B]
		if !okA || !okB {
			// One side despawned between step and drain; not an error.
			continue
		}
		b.sink.Collision(a, c)
	}
}

func (b *Bridge) Cleanup() {
	for id := range b.bodies {
		b.Remove(id)
	}
	b.engine.Close()
	b.available = false
}

// Mapped reports whether the entity currently has an engine body.
func (b *Bridge) Mapped(id ecs.EntityID) bool {
	_, ok := b.bodies[id]
	return ok
}

// SetLinearVelocity overrides a body's velocity. No-op on unmapped or static
// entities.
func (b *Bridge) SetLinearVelocity(id ecs.EntityID, v mathx.Vec3) {
	bodyID, ok := b.dynamicBody(id)
	if !ok {
		return
	}
	b.engine.SetLinearVelocity(bodyID, v)
	if phys, ok := b.registry.Physics(id); ok {
		phys.Velocity = v
	}
}

// ApplyImpulse applies a mass-scaled velocity change. No-op on unmapped or
// static entities.
func (b *Bridge) ApplyImpulse(id ecs.EntityID, impulse mathx.Vec3) {
	bodyID, ok := b.dynamicBody(id)
	if !ok {
		return
	}
	b.engine.ApplyImpulse(bodyID, impulse)
}

// IsGrounded casts a short ray downward from just below the entity's
// collider. Unmapped and static entities report false.
func (b *Bridge) IsGrounded(id ecs.EntityID) bool {
	if _, ok := b.dynamicBody(id); !ok {
		return false
	}
	tr, ok := b.registry.Transform(id)
	if !ok {
		return false
	}
	phys, _ := b.registry.Physics(id)
	origin := tr.Position.Add(phys.Collider.Offset)
	origin.Y -= phys.Collider.Size.Y/2 + 1e-3
	_, hit := b.engine.CastRay(origin, mathx.Vec3{Y: -1}, groundProbe)
	return hit
}

// SetPosition teleports the entity and zeroes its velocities. No-op on
// unmapped or static entities.
func (b *Bridge) SetPosition(id ecs.EntityID, pos mathx.Vec3) {
	bodyID, ok := b.dynamicBody(id)
	if !ok {
		return
	}
	b.engine.SetTranslation(bodyID, pos)
	b.engine.SetLinearVelocity(bodyID, mathx.Vec3{})
	if tr, ok := b.registry.Transform(id); ok {
		tr.Position = pos
	}
	if phys, ok := b.registry.Physics(id); ok {
		phys.Velocity = mathx.Vec3{}
	}
}

func (b *Bridge) dynamicBody(id ecs.EntityID) (BodyID, bool) {
	if !b.available {
		return 0, false
	}
	bodyID, ok := b.bodies[id]
	if !ok {
		return 0, false
	}
	phys, ok := b.registry.Physics(id)
	if !ok || phys.Static {
		return 0, false
	}
	return bodyID, true
}
