package physics

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormsync/stormsync/internal/core/ecs"
	"github.com/stormsync/stormsync/internal/core/mathx"
	"github.com/stormsync/stormsync/internal/core/observability"
	"github.com/stormsync/stormsync/internal/core/observability/log"
)

type collisionRecorder struct {
	pairs [][2]ecs.EntityID
}

func (c *collisionRecorder) Collision(a, b ecs.EntityID) {
	c.pairs = append(c.pairs, [2]ecs.EntityID{a, b})
}

func (c *collisionRecorder) Tick(observability.TickStats) {}

var gravity = mathx.Vec3{Y: -9.81}

func newTestBridge(role ecs.Role, localID string) (*Bridge, *ecs.Registry, *collisionRecorder) {
	reg := ecs.NewRegistry()
	sink := &collisionRecorder{}
	b := NewBridge(reg, NewKinematic(), role, localID, gravity, sink, log.NewNop())
	return b, reg, sink
}

func spawnBody(t *testing.T, reg *ecs.Registry, pos mathx.Vec3, configure func(*ecs.Physics, *ecs.Network)) ecs.EntityID {
	t.Helper()
	id := reg.Create()
	tr := ecs.NewTransform()
	tr.Position = pos
	require.NoError(t, reg.Add(id, tr))

	phys := ecs.NewPhysics()
	var net *ecs.Network
	if configure != nil {
		net = ecs.NewNetwork(fmt.Sprintf("net-%d", id), ecs.AuthorityServer)
		configure(phys, net)
	}
	require.NoError(t, reg.Add(id, phys))
	if net != nil {
		require.NoError(t, reg.Add(id, net))
	}
	return id
}

func TestBridgeEligibility(t *testing.T) {
	tests := []struct {
		name      string
		role      ecs.Role
		localID   string
		static    bool
		network   bool
		authority ecs.Authority
		owner     string
		want      bool
	}{
		{name: "no network simulates everywhere", role: ecs.RoleClient, network: false, want: true},
		{name: "static always simulates", role: ecs.RoleClient, static: true, network: true, authority: ecs.AuthorityClient, owner: "other", want: true},
		{name: "server authority simulates on clients", role: ecs.RoleClient, network: true, authority: ecs.AuthorityServer, want: true},
		{name: "server simulates client authority for validation", role: ecs.RoleServer, network: true, authority: ecs.AuthorityClient, owner: "other", want: true},
		{name: "owner predicts its own entity", role: ecs.RoleClient, localID: "me", network: true, authority: ecs.AuthorityClient, owner: "me", want: true},
		{name: "remote client authority is observe only", role: ecs.RoleClient, localID: "me", network: true, authority: ecs.AuthorityClient, owner: "other", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge, reg, _ := newTestBridge(tt.role, tt.localID)

			id := reg.Create()
			require.NoError(t, reg.Add(id, ecs.NewTransform()))
			phys := ecs.NewPhysics()
			phys.Static = tt.static
			require.NoError(t, reg.Add(id, phys))
			if tt.network {
				net := ecs.NewNetwork("e", tt.authority)
				net.Owner = tt.owner
				require.NoError(t, reg.Add(id, net))
			}

			assert.Equal(t, tt.want, bridge.ShouldProcess(id))
		})
	}
}

func TestBridgeRequiresTransformAndPhysics(t *testing.T) {
	bridge, reg, _ := newTestBridge(ecs.RoleServer, "")
	id := reg.Create()
	require.NoError(t, reg.Add(id, ecs.NewTransform()))
	assert.False(t, bridge.ShouldProcess(id))
}

func TestBridgeStepWritesBack(t *testing.T) {
	bridge, reg, _ := newTestBridge(ecs.RoleServer, "")

	id := spawnBody(t, reg, mathx.Vec3{Y: 10}, nil)
	bridge.Add(id)
	require.True(t, bridge.Mapped(id))

	bridge.Update(0.1)

	tr, _ := reg.Transform(id)
	phys, _ := reg.Physics(id)
	assert.Less(t, tr.Position.Y, 10.0)
	assert.Less(t, phys.Velocity.Y, 0.0)
}

func TestBridgeStaticBodyNotWrittenBack(t *testing.T) {
	bridge, reg, _ := newTestBridge(ecs.RoleServer, "")

	id := spawnBody(t, reg, mathx.Vec3{Y: 5}, func(p *ecs.Physics, _ *ecs.Network) {
		p.Static = true
	})
	bridge.Add(id)
	bridge.Update(0.1)

	tr, _ := reg.Transform(id)
	assert.Equal(t, 5.0, tr.Position.Y)
}

func TestBridgeCollisionsReachSink(t *testing.T) {
	bridge, reg, sink := newTestBridge(ecs.RoleServer, "")

	a := spawnBody(t, reg, mathx.Vec3{Y: 0.5}, nil)
	b := spawnBody(t, reg, mathx.Vec3{X: 0.5, Y: 0.5}, nil)
	bridge.Add(a)
	bridge.Add(b)

	bridge.Update(1.0 / 60)

	require.Len(t, sink.pairs, 1)
	assert.Equal(t, [2]ecs.EntityID{a, b}, sink.pairs[0])
}

func TestBridgeSkipsPairWithUnmappedBody(t *testing.T) {
	reg := ecs.NewRegistry()
	engine := NewKinematic()
	sink := &collisionRecorder{}
	bridge := NewBridge(reg, engine, ecs.RoleServer, "", gravity, sink, log.NewNop())

	a := spawnBody(t, reg, mathx.Vec3{Y: 0.5}, nil)
	bridge.Add(a)

	// A body created behind the bridge's back has no entity mapping; the
	// pair involving it must be dropped silently.
	_, err := engine.CreateBody(BodyDesc{
		Position: mathx.Vec3{X: 0.25, Y: 0.5},
		Collider: ecs.Collider{Type: ecs.ColliderBox, Size: mathx.Vec3{X: 1, Y: 1, Z: 1}},
	})
	require.NoError(t, err)

	bridge.Update(1.0 / 60)
	assert.Empty(t, sink.pairs)
}

func TestBridgeImperativeOpsNoopWhenUnmapped(t *testing.T) {
	bridge, reg, _ := newTestBridge(ecs.RoleServer, "")

	id := spawnBody(t, reg, mathx.Vec3{Y: 1}, nil)
	// Never added to the bridge.
	bridge.SetLinearVelocity(id, mathx.Vec3{X: 100})
	bridge.ApplyImpulse(id, mathx.Vec3{X: 100})
	bridge.SetPosition(id, mathx.Vec3{X: 50})

	tr, _ := reg.Transform(id)
	phys, _ := reg.Physics(id)
	assert.Equal(t, mathx.Vec3{Y: 1}, tr.Position)
	assert.Equal(t, mathx.Vec3{}, phys.Velocity)
	assert.False(t, bridge.IsGrounded(id))
}

func TestBridgeImperativeOpsNoopOnStatic(t *testing.T) {
	bridge, reg, _ := newTestBridge(ecs.RoleServer, "")

	id := spawnBody(t, reg, mathx.Vec3{Y: 1}, func(p *ecs.Physics, _ *ecs.Network) {
		p.Static = true
	})
	bridge.Add(id)
	bridge.SetLinearVelocity(id, mathx.Vec3{X: 100})

	phys, _ := reg.Physics(id)
	assert.Equal(t, mathx.Vec3{}, phys.Velocity)
}

func TestBridgeIsGrounded(t *testing.T) {
	bridge, reg, _ := newTestBridge(ecs.RoleServer, "")

	// Box of height 1 resting on the ground plane: center at y=0.5.
	id := spawnBody(t, reg, mathx.Vec3{Y: 0.5}, nil)
	bridge.Add(id)
	assert.True(t, bridge.IsGrounded(id))

	airborne := spawnBody(t, reg, mathx.Vec3{Y: 5}, nil)
	bridge.Add(airborne)
	assert.False(t, bridge.IsGrounded(airborne))
}

func TestBridgeSetPositionTeleports(t *testing.T) {
	bridge, reg, _ := newTestBridge(ecs.RoleServer, "")

	id := spawnBody(t, reg, mathx.Vec3{Y: 5}, nil)
	bridge.Add(id)
	bridge.SetLinearVelocity(id, mathx.Vec3{X: 3})

	bridge.SetPosition(id, mathx.Vec3{X: 10, Y: 2})

	tr, _ := reg.Transform(id)
	phys, _ := reg.Physics(id)
	assert.Equal(t, mathx.Vec3{X: 10, Y: 2}, tr.Position)
	assert.Equal(t, mathx.Vec3{}, phys.Velocity)
}

func TestBridgeRemoveReleasesBody(t *testing.T) {
	bridge, reg, _ := newTestBridge(ecs.RoleServer, "")

	id := spawnBody(t, reg, mathx.Vec3{Y: 1}, nil)
	bridge.Add(id)
	require.True(t, bridge.Mapped(id))

	bridge.Remove(id)
	assert.False(t, bridge.Mapped(id))

	// Removing again is a no-op.
	bridge.Remove(id)
}
