// Package netsync replicates entity state across the network: the
// authoritative side captures snapshots on a fixed interval, observers play
// them back through a delayed interpolation buffer, and the locally
// controlled entity predicts optimistically and reconciles against
// authoritative corrections.
package netsync

import (
	"sync"
	"time"

	"github.com/stormsync/stormsync/internal/core/ecs"
	"github.com/stormsync/stormsync/internal/core/mathx"
	"github.com/stormsync/stormsync/internal/core/observability/log"
	"github.com/stormsync/stormsync/internal/core/physics"
	"github.com/stormsync/stormsync/internal/core/wire"
)

var _ ecs.System = (*System)(nil)

// entityRole is derived per tick from the Network component's authority, the
// local role and ownership; it is never tracked separately.
type entityRole uint8

const (
	roleAuthoritative entityRole = iota
	roleObserved
	roleControlled
)

// Config tunes the synchronization system.
type Config struct {
	Role          ecs.Role
	LocalClientID string

	// SnapshotInterval paces authoritative capture, independent of the tick
	// rate.
	SnapshotInterval time.Duration

	// InterpolationDelay is how far behind real time observed entities
	// render.
	InterpolationDelay time.Duration

	BufferCapacity       int
	HistoryCapacity      int
	PendingInputCapacity int

	// MaxHorizontalSpeed clamps requested movement on the validating side.
	MaxHorizontalSpeed float64
	JumpSpeed          float64

	// InputStep is the fixed duration one replayed input integrates over.
	InputStep float64

	// Clock is injected for deterministic tests; defaults to time.Now.
	Clock func() time.Time
}

func DefaultConfig(role ecs.Role) Config {
	return Config{
		Role:                 role,
		SnapshotInterval:     50 * time.Millisecond,
		InterpolationDelay:   100 * time.Millisecond,
		BufferCapacity:       32,
		HistoryCapacity:      64,
		PendingInputCapacity: 128,
		MaxHorizontalSpeed:   10,
		JumpSpeed:            5,
		InputStep:            1.0 / 60,
		Clock:                time.Now,
	}
}

type clientInput struct {
	networkID string
	frame     wire.InputFrame
}

// System is the network synchronization system. Inbound batches and inputs
// arrive from transport goroutines into queues and are drained at the start
// of Update; nothing touches ECS state outside a tick.
type System struct {
	cfg      Config
	registry *ecs.Registry
	bridge   *physics.Bridge
	logger   log.Log
	now      func() time.Time

	ids       map[uint64]string        // wire id -> network id
	entities  map[string]ecs.EntityID  // network id -> entity
	byEntity  map[ecs.EntityID]string  // entity -> network id
	removedAt map[string]time.Time     // network id -> unmap time, for sweeping
	buffers   map[string]*interpBuffer // observed entities
	pending   map[string]*inputLog     // controlled entities
	history   map[string][]Snapshot    // authoritative outgoing history

	lastCapture time.Time
	outSeq      uint32
	send        func(wire.Batch)

	mu             sync.Mutex
	inboundBatches []wire.Batch
	inboundInputs  []clientInput
}

func NewSystem(registry *ecs.Registry, bridge *physics.Bridge, cfg Config, logger log.Log) *System {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &System{
		cfg:       cfg,
		registry:  registry,
		bridge:    bridge,
		logger:    logger.With(log.String("component", "netsync"), log.String("role", cfg.Role.String())),
		now:       cfg.Clock,
		ids:       make(map[uint64]string),
		entities:  make(map[string]ecs.EntityID),
		byEntity:  make(map[ecs.EntityID]string),
		removedAt: make(map[string]time.Time),
		buffers:   make(map[string]*interpBuffer),
		pending:   make(map[string]*inputLog),
		history:   make(map[string][]Snapshot),
	}
}

// OnOutgoing sets the hook that receives captured snapshot batches. The hook
// runs inside the tick; it should hand the batch to the transport without
// blocking.
func (s *System) OnOutgoing(fn func(wire.Batch)) {
	s.send = fn
}

// RegisterID teaches the system a wire-id mapping ahead of entity creation,
// typically from a welcome or spawn control message.
func (s *System) RegisterID(networkID string) {
	s.ids[wire.IDFor(networkID)] = networkID
}

func (s *System) Name() string { return "netsync" }

func (s *System) ShouldProcess(id ecs.EntityID) bool {
	return s.registry.Has(id, ecs.KindNetwork, ecs.KindTransform)
}

func (s *System) Add(id ecs.EntityID) {
	net, ok := s.registry.Network(id)
	if !ok {
		return
	}
	s.entities[net.NetworkID] = id
	s.byEntity[id] = net.NetworkID
	s.ids[wire.IDFor(net.NetworkID)] = net.NetworkID
	delete(s.removedAt, net.NetworkID)
}

func (s *System) Remove(id ecs.EntityID) {
	netID, ok := s.byEntity[id]
	if !ok {
		return
	}
	delete(s.byEntity, id)
	delete(s.entities, netID)
	delete(s.history, netID)
	s.removedAt[netID] = s.now()
}

// EnqueueBatch queues a decoded inbound snapshot batch. Safe to call from
// transport goroutines.
func (s *System) EnqueueBatch(b wire.Batch) {
	s.mu.Lock()
	s.inboundBatches = append(s.inboundBatches, b)
	s.mu.Unlock()
}

// EnqueueInput queues a client input frame for server-side validation. Safe
// to call from transport goroutines.
func (s *System) EnqueueInput(networkID string, f wire.InputFrame) {
	s.mu.Lock()
	s.inboundInputs = append(s.inboundInputs, clientInput{networkID: networkID, frame: f})
	s.mu.Unlock()
}

func (s *System) Update(_ float64) {
	now := s.now()

	s.mu.Lock()
	batches := s.inboundBatches
	inputs := s.inboundInputs
	s.inboundBatches = nil
	s.inboundInputs = nil
	s.mu.Unlock()

	if s.cfg.Role == ecs.RoleServer {
		for _, in := range inputs {
			s.applyValidatedInput(in.networkID, in.frame, now)
		}
	}

	for _, b := range batches {
		for _, r := range b.Records {
			s.handleRecord(b.Timestamp, r)
		}
	}

	for netID, id := range s.entities {
		if s.roleFor(id) == roleObserved {
			s.interpolate(netID, id, now)
		}
	}

	if s.cfg.Role == ecs.RoleServer {
		s.captureDue(now)
	}

	s.sweep(now)
}

func (s *System) Cleanup() {
	s.ids = make(map[uint64]string)
	s.entities = make(map[string]ecs.EntityID)
	s.byEntity = make(map[ecs.EntityID]string)
	s.removedAt = make(map[string]time.Time)
	s.buffers = make(map[string]*interpBuffer)
	s.pending = make(map[string]*inputLog)
	s.history = make(map[string][]Snapshot)
	s.mu.Lock()
	s.inboundBatches = nil
	s.inboundInputs = nil
	s.mu.Unlock()
}

// ApplyLocalInput records one input sample for the locally controlled entity
// and applies it immediately, without waiting for the server round trip.
func (s *System) ApplyLocalInput(in wire.InputFrame) error {
	id, netID, ok := s.controlled()
	if !ok {
		return ErrNoControlled
	}
	logEntry := s.pending[netID]
	if logEntry == nil {
		logEntry = newInputLog(s.cfg.PendingInputCapacity)
		s.pending[netID] = logEntry
	}
	logEntry.append(in)
	s.applyMovement(id, in)
	return nil
}

func (s *System) roleFor(id ecs.EntityID) entityRole {
	if s.cfg.Role == ecs.RoleServer {
		return roleAuthoritative
	}
	net, ok := s.registry.Network(id)
	if ok && net.Authority == ecs.AuthorityClient && net.Owner == s.cfg.LocalClientID {
		return roleControlled
	}
	return roleObserved
}

func (s *System) controlled() (ecs.EntityID, string, bool) {
	for netID, id := range s.entities {
		if s.roleFor(id) == roleControlled {
			return id, netID, true
		}
	}
	return 0, "", false
}

func (s *System) handleRecord(ts time.Time, r wire.Record) {
	netID, ok := s.ids[r.ID]
	if !ok {
		s.logger.Debug("snapshot for unresolvable wire id discarded", log.Uint64("wire_id", r.ID))
		return
	}
	if r.Mask&wire.MaskTransform == 0 {
		s.logger.Debug("snapshot without transform discarded", log.String("network_id", netID))
		return
	}
	snap := FromRecord(netID, ts, r)

	id, exists := s.entities[netID]
	if !exists {
		// Entity not spawned yet; buffer so playback can begin as soon as it
		// is.
		s.bufferFor(netID).insert(snap)
		return
	}

	switch s.roleFor(id) {
	case roleControlled:
		s.reconcile(id, netID, snap)
	case roleObserved:
		s.bufferFor(netID).insert(snap)
	default:
		// An update arriving for an entity this side is authoritative over is
		// an authority mismatch; ignore rather than apply.
		s.logger.Debug("authority mismatch, snapshot ignored", log.String("network_id", netID))
	}
}

// applyValidatedInput applies a client input on the server: horizontal speed
// clamped, jump eligibility derived from the authoritative ground query, the
// client-supplied jump flag treated as a request only.
func (s *System) applyValidatedInput(networkID string, in wire.InputFrame, now time.Time) {
	id, ok := s.entities[networkID]
	if !ok {
		return
	}
	net, ok := s.registry.Network(id)
	if !ok || net.Authority != ecs.AuthorityClient {
		return
	}
	if in.Seq <= net.LastProcessedInputSeq {
		return
	}

	s.applyMovement(id, in)

	net.LastProcessedInputSeq = in.Seq
	if tr, ok := s.registry.Transform(id); ok {
		vel := mathx.Vec3{}
		if phys, ok := s.registry.Physics(id); ok {
			vel = phys.Velocity
		}
		net.LastValidatedState = ecs.ValidatedState{
			Position:  tr.Position,
			Velocity:  vel,
			Timestamp: now,
		}
	}
}

// applyMovement turns an input frame into body velocity: clamped horizontal
// intent, vertical velocity preserved, jump granted only when the bridge's
// ground query agrees.
func (s *System) applyMovement(id ecs.EntityID, in wire.InputFrame) {
	move := in.Move.Horizontal().ClampLength(s.cfg.MaxHorizontalSpeed)
	vel := mathx.Vec3{X: move.X, Z: move.Z}
	if phys, ok := s.registry.Physics(id); ok {
		vel.Y = phys.Velocity.Y
	}
	if in.Jump && s.bridge.IsGrounded(id) {
		vel.Y = s.cfg.JumpSpeed
	}
	s.bridge.SetLinearVelocity(id, vel)
}

// reconcile overwrites the controlled entity from the authoritative snapshot,
// prunes acknowledged inputs, then replays the rest over the corrected state
// so unacknowledged prediction is preserved.
func (s *System) reconcile(id ecs.EntityID, netID string, snap Snapshot) {
	logEntry := s.pending[netID]
	if logEntry == nil {
		logEntry = newInputLog(s.cfg.PendingInputCapacity)
		s.pending[netID] = logEntry
	}
	if snap.Mask&wire.MaskNetwork != 0 {
		logEntry.prune(snap.InputSeq)
		if net, ok := s.registry.Network(id); ok {
			net.LastProcessedInputSeq = snap.InputSeq
		}
	}

	tr, ok := s.registry.Transform(id)
	if !ok {
		return
	}
	tr.Rotation = snap.Rotation
	tr.Scale = snap.Scale

	pos := snap.Position
	vel := mathx.Vec3{}
	if snap.Mask&wire.MaskPhysics != 0 {
		vel = snap.Velocity
	}
	for _, f := range logEntry.pending() {
		move := f.Move.Horizontal().ClampLength(s.cfg.MaxHorizontalSpeed)
		pos = pos.Add(move.Scale(s.cfg.InputStep))
		vel = mathx.Vec3{X: move.X, Y: vel.Y, Z: move.Z}
	}
	tr.Position = pos
	if phys, ok := s.registry.Physics(id); ok {
		phys.Velocity = vel
	}
	s.bridge.SetPosition(id, pos)
	s.bridge.SetLinearVelocity(id, vel)
}

func (s *System) interpolate(netID string, id ecs.EntityID, now time.Time) {
	buf, ok := s.buffers[netID]
	if !ok {
		return
	}
	renderTime := now.Add(-s.cfg.InterpolationDelay)
	before, after, ok := buf.bracket(renderTime)
	if !ok {
		// Buffer too short or renderTime outside range; skip rather than
		// extrapolate.
		return
	}
	denom := after.Timestamp.Sub(before.Timestamp).Seconds()
	if denom <= 0 {
		return
	}
	alpha := renderTime.Sub(before.Timestamp).Seconds() / denom

	tr, ok := s.registry.Transform(id)
	if !ok {
		return
	}
	tr.Position = mathx.LerpVec3(before.Position, after.Position, alpha)
	tr.Scale = mathx.LerpVec3(before.Scale, after.Scale, alpha)
	tr.Rotation = mathx.LerpQuat(before.Rotation, after.Rotation, alpha)
}

// captureDue captures a snapshot of every authoritative entity once per
// snapshot interval and hands the batch to the outgoing hook.
func (s *System) captureDue(now time.Time) {
	if !s.lastCapture.IsZero() && now.Sub(s.lastCapture) < s.cfg.SnapshotInterval {
		return
	}
	s.lastCapture = now

	records := make([]wire.Record, 0, len(s.entities))
	for netID, id := range s.entities {
		snap, ok := Capture(s.registry, id, now)
		if !ok {
			continue
		}
		hist := append(s.history[netID], snap)
		if len(hist) > s.cfg.HistoryCapacity {
			hist = hist[len(hist)-s.cfg.HistoryCapacity:]
		}
		s.history[netID] = hist
		records = append(records, snap.Record())
	}
	if len(records) == 0 || s.send == nil {
		return
	}
	s.outSeq++
	s.send(wire.Batch{Sequence: s.outSeq, Timestamp: now, Records: records})
}

// History returns the retained outgoing snapshots for a network id.
func (s *System) History(networkID string) []Snapshot {
	return s.history[networkID]
}

func (s *System) bufferFor(netID string) *interpBuffer {
	buf, ok := s.buffers[netID]
	if !ok {
		buf = newInterpBuffer(s.cfg.BufferCapacity)
		s.buffers[netID] = buf
	}
	return buf
}

// bufferLifetime is how long state for an unmapped network id survives
// before the sweep reclaims it.
func (s *System) bufferLifetime() time.Duration {
	return s.cfg.SnapshotInterval * time.Duration(s.cfg.BufferCapacity)
}

// sweep discards buffers, input logs and id mappings for network ids that
// have had no entity for more than one buffer lifetime.
func (s *System) sweep(now time.Time) {
	lifetime := s.bufferLifetime()
	for netID, since := range s.removedAt {
		if now.Sub(since) <= lifetime {
			continue
		}
		delete(s.buffers, netID)
		delete(s.pending, netID)
		delete(s.ids, wire.IDFor(netID))
		delete(s.removedAt, netID)
	}
}
