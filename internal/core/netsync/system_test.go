package netsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormsync/stormsync/internal/core/ecs"
	"github.com/stormsync/stormsync/internal/core/mathx"
	"github.com/stormsync/stormsync/internal/core/observability"
	"github.com/stormsync/stormsync/internal/core/observability/log"
	"github.com/stormsync/stormsync/internal/core/physics"
	"github.com/stormsync/stormsync/internal/core/wire"
)

const tickDt = 1.0 / 60

type fixture struct {
	world  *ecs.World
	reg    *ecs.Registry
	bridge *physics.Bridge
	sys    *System
	now    time.Time
}

func newFixture(t *testing.T, role ecs.Role, mutate func(*Config)) *fixture {
	t.Helper()
	f := &fixture{now: t0}
	f.reg = ecs.NewRegistry()
	f.world = ecs.NewWorld(f.reg, log.NewNop())
	f.bridge = physics.NewBridge(f.reg, physics.NewKinematic(), role, "me", mathx.Vec3{Y: -9.81}, observability.NopSink{}, log.NewNop())

	cfg := DefaultConfig(role)
	cfg.LocalClientID = "me"
	cfg.Clock = func() time.Time { return f.now }
	if mutate != nil {
		mutate(&cfg)
	}
	f.sys = NewSystem(f.reg, f.bridge, cfg, log.NewNop())

	f.world.Register(f.bridge)
	f.world.Register(f.sys)
	return f
}

// spawn creates a replicated entity resting on the ground plane.
func (f *fixture) spawn(t *testing.T, netID, owner string, authority ecs.Authority) ecs.EntityID {
	t.Helper()
	id := f.world.Create()
	tr := ecs.NewTransform()
	tr.Position = mathx.Vec3{Y: 0.5}
	net := ecs.NewNetwork(netID, authority)
	net.Owner = owner
	for _, c := range []ecs.Component{tr, ecs.NewPhysics(), ecs.NewRender(), net} {
		require.NoError(t, f.world.Add(id, c))
	}
	return id
}

func (f *fixture) batch(seq uint32, ms int, records ...wire.Record) wire.Batch {
	return wire.Batch{
		Sequence:  seq,
		Timestamp: t0.Add(time.Duration(ms) * time.Millisecond),
		Records:   records,
	}
}

func transformRecord(netID string, ms int, x float64) wire.Record {
	_ = ms
	r := wire.DefaultRecord(wire.IDFor(netID))
	r.Mask = wire.MaskTransform
	r.Position = mathx.Vec3{X: x, Y: 0.5}
	return r
}

func TestInterpolationMidpointIsExact(t *testing.T) {
	f := newFixture(t, ecs.RoleClient, nil)
	id := f.spawn(t, "remote", "other", ecs.AuthorityClient)

	f.sys.EnqueueBatch(f.batch(1, 100, transformRecord("remote", 100, 0)))
	f.sys.EnqueueBatch(f.batch(2, 200, transformRecord("remote", 200, 10)))

	// renderTime = now - delay = t0+150ms, halfway between the snapshots.
	f.now = t0.Add(250 * time.Millisecond)
	f.sys.Update(tickDt)

	tr, _ := f.reg.Transform(id)
	assert.Equal(t, 5.0, tr.Position.X)
	assert.Equal(t, 0.5, tr.Position.Y)
}

func TestInterpolationNeverExtrapolates(t *testing.T) {
	f := newFixture(t, ecs.RoleClient, nil)
	id := f.spawn(t, "remote", "other", ecs.AuthorityClient)

	f.sys.EnqueueBatch(f.batch(1, 100, transformRecord("remote", 100, 0)))
	f.sys.EnqueueBatch(f.batch(2, 200, transformRecord("remote", 200, 10)))

	// renderTime = t0+250ms, past the newest snapshot: the entity holds its
	// last pose instead of extrapolating.
	f.now = t0.Add(350 * time.Millisecond)
	f.sys.Update(tickDt)

	tr, _ := f.reg.Transform(id)
	assert.Equal(t, 0.0, tr.Position.X)
}

func TestInterpolationHandlesReorderedBatches(t *testing.T) {
	f := newFixture(t, ecs.RoleClient, nil)
	id := f.spawn(t, "remote", "other", ecs.AuthorityClient)

	// Newer state arrives first; the buffer reorders by timestamp.
	f.sys.EnqueueBatch(f.batch(2, 200, transformRecord("remote", 200, 10)))
	f.sys.EnqueueBatch(f.batch(1, 100, transformRecord("remote", 100, 0)))

	f.now = t0.Add(250 * time.Millisecond)
	f.sys.Update(tickDt)

	tr, _ := f.reg.Transform(id)
	assert.Equal(t, 5.0, tr.Position.X)
}

func TestSnapshotsBufferedBeforeSpawn(t *testing.T) {
	f := newFixture(t, ecs.RoleClient, nil)

	f.sys.RegisterID("remote")
	f.sys.EnqueueBatch(f.batch(1, 100, transformRecord("remote", 100, 0)))
	f.sys.EnqueueBatch(f.batch(2, 200, transformRecord("remote", 200, 10)))
	f.sys.Update(tickDt)

	// The entity spawns after its state started arriving; playback begins
	// from the retained buffer.
	id := f.spawn(t, "remote", "other", ecs.AuthorityClient)
	f.now = t0.Add(250 * time.Millisecond)
	f.sys.Update(tickDt)

	tr, _ := f.reg.Transform(id)
	assert.Equal(t, 5.0, tr.Position.X)
}

func TestUnresolvableWireIDDiscarded(t *testing.T) {
	f := newFixture(t, ecs.RoleClient, nil)

	f.sys.EnqueueBatch(f.batch(1, 100, transformRecord("never-announced", 100, 3)))
	f.sys.Update(tickDt)

	assert.Empty(t, f.sys.buffers)
}

func TestAuthorityMismatchIgnored(t *testing.T) {
	f := newFixture(t, ecs.RoleServer, nil)
	id := f.spawn(t, "p1", "c1", ecs.AuthorityClient)

	f.sys.EnqueueBatch(f.batch(1, 100, transformRecord("p1", 100, 42)))
	f.sys.Update(tickDt)

	// The server is authoritative; the inbound state must not be applied.
	tr, _ := f.reg.Transform(id)
	assert.Equal(t, 0.0, tr.Position.X)
}

func TestReconciliationReplaysPendingInputs(t *testing.T) {
	f := newFixture(t, ecs.RoleClient, func(cfg *Config) {
		cfg.InputStep = 0.1
	})
	id := f.spawn(t, "mine", "me", ecs.AuthorityClient)

	require.NoError(t, f.sys.ApplyLocalInput(wire.InputFrame{Seq: 1, Move: mathx.Vec3{X: 1}}))
	require.NoError(t, f.sys.ApplyLocalInput(wire.InputFrame{Seq: 2, Move: mathx.Vec3{X: 1}}))

	// Authoritative correction acknowledging nothing: both inputs replay
	// over the corrected base.
	r := wire.DefaultRecord(wire.IDFor("mine"))
	r.Mask = wire.MaskTransform | wire.MaskNetwork
	r.Position = mathx.Vec3{Y: 0.5}
	r.InputSeq = 0
	f.sys.EnqueueBatch(f.batch(1, 100, r))
	f.sys.Update(tickDt)

	tr, _ := f.reg.Transform(id)
	assert.InDelta(t, 2*1.0*0.1, tr.Position.X, 1e-9)
}

func TestReconciliationPrunesAcknowledgedInputs(t *testing.T) {
	f := newFixture(t, ecs.RoleClient, func(cfg *Config) {
		cfg.InputStep = 0.1
	})
	id := f.spawn(t, "mine", "me", ecs.AuthorityClient)

	require.NoError(t, f.sys.ApplyLocalInput(wire.InputFrame{Seq: 1, Move: mathx.Vec3{X: 1}}))
	require.NoError(t, f.sys.ApplyLocalInput(wire.InputFrame{Seq: 2, Move: mathx.Vec3{X: 1}}))

	// Seq 1 is acknowledged: only seq 2 replays.
	r := wire.DefaultRecord(wire.IDFor("mine"))
	r.Mask = wire.MaskTransform | wire.MaskNetwork
	r.Position = mathx.Vec3{Y: 0.5}
	r.InputSeq = 1
	f.sys.EnqueueBatch(f.batch(1, 100, r))
	f.sys.Update(tickDt)

	tr, _ := f.reg.Transform(id)
	net, _ := f.reg.Network(id)
	assert.InDelta(t, 0.1, tr.Position.X, 1e-9)
	assert.Equal(t, uint32(1), net.LastProcessedInputSeq)
	assert.Equal(t, 1, f.sys.pending["mine"].len())
}

func TestApplyLocalInputRequiresControlledEntity(t *testing.T) {
	f := newFixture(t, ecs.RoleClient, nil)
	f.spawn(t, "remote", "other", ecs.AuthorityClient)

	err := f.sys.ApplyLocalInput(wire.InputFrame{Seq: 1, Move: mathx.Vec3{X: 1}})
	require.ErrorIs(t, err, ErrNoControlled)
}

func TestServerValidatesInputSpeed(t *testing.T) {
	f := newFixture(t, ecs.RoleServer, nil)
	id := f.spawn(t, "p1", "c1", ecs.AuthorityClient)

	// Requested speed far beyond the limit clamps to MaxHorizontalSpeed.
	f.sys.EnqueueInput("p1", wire.InputFrame{Seq: 1, Move: mathx.Vec3{X: 100}})
	f.sys.Update(tickDt)

	phys, _ := f.reg.Physics(id)
	net, _ := f.reg.Network(id)
	assert.InDelta(t, 10.0, phys.Velocity.X, 1e-9)
	assert.Equal(t, uint32(1), net.LastProcessedInputSeq)
	assert.Equal(t, mathx.Vec3{Y: 0.5}, net.LastValidatedState.Position)
}

func TestServerGrantsJumpOnlyWhenGrounded(t *testing.T) {
	f := newFixture(t, ecs.RoleServer, nil)
	grounded := f.spawn(t, "p1", "c1", ecs.AuthorityClient)

	f.sys.EnqueueInput("p1", wire.InputFrame{Seq: 1, Jump: true})
	f.sys.Update(tickDt)

	phys, _ := f.reg.Physics(grounded)
	assert.Equal(t, 5.0, phys.Velocity.Y)

	// Airborne: the jump request is denied regardless of the client flag.
	airborne := f.spawn(t, "p2", "c2", ecs.AuthorityClient)
	tr, _ := f.reg.Transform(airborne)
	tr.Position = mathx.Vec3{Y: 5}
	f.bridge.SetPosition(airborne, mathx.Vec3{Y: 5})

	f.sys.EnqueueInput("p2", wire.InputFrame{Seq: 1, Jump: true})
	f.sys.Update(tickDt)

	phys2, _ := f.reg.Physics(airborne)
	assert.Equal(t, 0.0, phys2.Velocity.Y)
}

func TestServerDropsStaleInputSequences(t *testing.T) {
	f := newFixture(t, ecs.RoleServer, nil)
	id := f.spawn(t, "p1", "c1", ecs.AuthorityClient)

	f.sys.EnqueueInput("p1", wire.InputFrame{Seq: 5, Move: mathx.Vec3{X: 1}})
	f.sys.Update(tickDt)
	f.sys.EnqueueInput("p1", wire.InputFrame{Seq: 4, Move: mathx.Vec3{Z: 1}})
	f.sys.Update(tickDt)

	net, _ := f.reg.Network(id)
	phys, _ := f.reg.Physics(id)
	assert.Equal(t, uint32(5), net.LastProcessedInputSeq)
	assert.Equal(t, 0.0, phys.Velocity.Z)
}

func TestServerCapturePacing(t *testing.T) {
	var batches []wire.Batch
	f := newFixture(t, ecs.RoleServer, func(cfg *Config) {
		cfg.SnapshotInterval = 50 * time.Millisecond
	})
	f.sys.OnOutgoing(func(b wire.Batch) { batches = append(batches, b) })
	f.spawn(t, "p1", "c1", ecs.AuthorityClient)

	f.sys.Update(tickDt)
	require.Len(t, batches, 1)

	// Within the interval: no capture, regardless of tick rate.
	f.now = t0.Add(10 * time.Millisecond)
	f.sys.Update(tickDt)
	require.Len(t, batches, 1)

	f.now = t0.Add(60 * time.Millisecond)
	f.sys.Update(tickDt)
	require.Len(t, batches, 2)

	assert.Equal(t, uint32(1), batches[0].Sequence)
	assert.Equal(t, uint32(2), batches[1].Sequence)
	require.Len(t, batches[1].Records, 1)

	rec := batches[1].Records[0]
	assert.Equal(t, wire.IDFor("p1"), rec.ID)
	assert.Equal(t, wire.MaskTransform|wire.MaskPhysics|wire.MaskRender|wire.MaskNetwork, rec.Mask)

	// History retains what was sent.
	assert.Len(t, f.sys.History("p1"), 2)
}

func TestSweepReclaimsDepartedEntities(t *testing.T) {
	f := newFixture(t, ecs.RoleClient, func(cfg *Config) {
		cfg.SnapshotInterval = 50 * time.Millisecond
		cfg.BufferCapacity = 2
	})
	id := f.spawn(t, "remote", "other", ecs.AuthorityClient)

	f.sys.EnqueueBatch(f.batch(1, 100, transformRecord("remote", 100, 0)))
	f.sys.Update(tickDt)
	require.Len(t, f.sys.buffers, 1)

	f.world.Destroy(id)

	// Within one buffer lifetime the state is retained for a respawn.
	f.now = t0.Add(50 * time.Millisecond)
	f.sys.Update(tickDt)
	assert.Len(t, f.sys.buffers, 1)

	// Past the lifetime everything for the id is reclaimed.
	f.now = t0.Add(200 * time.Millisecond)
	f.sys.Update(tickDt)
	assert.Empty(t, f.sys.buffers)
	assert.Empty(t, f.sys.ids)
}
