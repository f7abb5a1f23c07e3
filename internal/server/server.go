// Package server hosts a single simulation room: it owns the authoritative
// world, validates client input, and fans captured snapshot batches out to
// every connected peer.
package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/stormsync/stormsync/internal/core/ecs"
	"github.com/stormsync/stormsync/internal/core/loop"
	"github.com/stormsync/stormsync/internal/core/mathx"
	"github.com/stormsync/stormsync/internal/core/netsync"
	"github.com/stormsync/stormsync/internal/core/observability"
	"github.com/stormsync/stormsync/internal/core/observability/log"
	"github.com/stormsync/stormsync/internal/core/physics"
	"github.com/stormsync/stormsync/internal/core/protocol"
	"github.com/stormsync/stormsync/internal/core/wire"
	"github.com/stormsync/stormsync/pkg/generic"
)

var _ protocol.Handler = (*Server)(nil)

// session tracks one connected peer and the entity it controls.
type session struct {
	conn      protocol.Conn
	clientID  string
	networkID string
	entity    ecs.EntityID
	name      string
	joinedAt  time.Time
}

// Server binds the simulation core to a transport. Transport callbacks
// never touch the world directly; they queue commands that the intake
// system applies at the start of the next tick.
type Server struct {
	cfg    Config
	logger log.Log

	world    *ecs.World
	registry *ecs.Registry
	bridge   *physics.Bridge
	netsync  *netsync.System
	gameLoop *loop.Loop

	epoch     time.Time
	encoder   *wire.Encoder
	transport protocol.Transport
	payloads  *generic.Pool[[]byte]

	sessions sync.Map // conn id -> *session
	joinSeq  atomic.Uint64

	mu       sync.Mutex
	commands []func()

	running atomic.Bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

func New(cfg Config, logger log.Log) *Server {
	logger = logger.With(log.String("component", "server"))

	registry := ecs.NewRegistry()
	world := ecs.NewWorld(registry, logger)
	sink := observability.NewLogSink(logger)

	gravity := mathx.Vec3{Y: cfg.Gravity}
	bridge := physics.NewBridge(registry, physics.NewKinematic(), ecs.RoleServer, "", gravity, sink, logger)

	nsCfg := netsync.DefaultConfig(ecs.RoleServer)
	nsCfg.SnapshotInterval = cfg.SnapshotInterval()
	nsCfg.MaxHorizontalSpeed = cfg.MaxHorizontalSpeed
	nsCfg.JumpSpeed = cfg.JumpSpeed
	nsCfg.InputStep = cfg.TickInterval().Seconds()
	if cfg.Clock != nil {
		nsCfg.Clock = cfg.Clock.Now
	}
	ns := netsync.NewSystem(registry, bridge, nsCfg, logger)

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		world:    world,
		registry: registry,
		bridge:   bridge,
		netsync:  ns,
		epoch:    epoch(cfg),
		payloads: generic.NewHotPool(func() []byte { return make([]byte, 0, 2048) }, 4),
	}
	s.encoder = wire.NewEncoder(s.epoch)
	ns.OnOutgoing(s.broadcastSnapshot)

	// Phase order is a correctness dependency: intake applies joins and
	// leaves, the bridge steps physics, netsync validates input and captures.
	world.Register(&intake{srv: s})
	world.Register(bridge)
	world.Register(ns)

	loopCfg := loop.DefaultConfig()
	loopCfg.TickInterval = cfg.TickInterval()
	loopCfg.MaxFrameTime = cfg.MaxFrameTime()
	if cfg.Clock != nil {
		loopCfg.Clock = cfg.Clock
	}
	s.gameLoop = loop.New(world, loopCfg, sink, logger)
	return s
}

// epoch anchors the wire codec's relative timestamps at server start.
func epoch(cfg Config) time.Time {
	if cfg.Clock != nil {
		return cfg.Clock.Now()
	}
	return time.Now()
}

// World exposes the simulation world for tests and tooling.
func (s *Server) World() *ecs.World { return s.world }

// Loop exposes the game loop so tests can drive ticks manually.
func (s *Server) Loop() *loop.Loop { return s.gameLoop }

// Epoch is the timestamp base shared with client codecs via the welcome.
func (s *Server) Epoch() time.Time { return s.epoch }

// Start opens the transport and launches the game loop. The server stops
// when ctx is canceled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	transport, err := s.buildTransport()
	if err != nil {
		s.running.Store(false)
		return err
	}
	s.transport = transport

	ctx, s.cancel = context.WithCancel(ctx)
	if err = transport.Listen(ctx, s.cfg.ListenAddr, s); err != nil {
		s.running.Store(false)
		s.cancel()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return s.transport.Close()
	})
	s.group = g

	s.gameLoop.Start()
	s.logger.Info("server started",
		log.String("addr", s.cfg.ListenAddr),
		log.String("transport", transport.Name()),
		log.Int("tick_rate", s.cfg.TickRate),
	)
	return nil
}

// Stop halts the loop and closes the transport. Idempotent.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return ErrNotRunning
	}
	s.gameLoop.Stop()
	s.cancel()
	err := s.group.Wait()
	s.logger.Info("server stopped")
	return err
}

func (s *Server) buildTransport() (protocol.Transport, error) {
	switch s.cfg.Transport {
	case "quic":
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load tls keypair: %w", err)
		}
		return protocol.NewQUIC(&tls.Config{Certificates: []tls.Certificate{cert}}, s.logger), nil
	case "websocket":
		return protocol.NewWebSocket(s.logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, s.cfg.Transport)
	}
}

// OnConnect implements protocol.Handler. Nothing is spawned until the peer
// sends a join request.
func (s *Server) OnConnect(conn protocol.Conn) {
	s.logger.Info("peer connected", log.String("conn", conn.ID()), log.String("addr", conn.RemoteAddr()))
}

// OnMessage implements protocol.Handler. Runs on transport goroutines.
func (s *Server) OnMessage(conn protocol.Conn, _ protocol.Class, msg protocol.Message) {
	switch msg.Type {
	case protocol.MsgJoin:
		var req JoinRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			s.logger.Warn("malformed join request", log.String("conn", conn.ID()), log.Error(err))
			return
		}
		s.enqueue(func() { s.join(conn, req) })
	case protocol.MsgInput:
		sess, ok := s.sessionFor(conn.ID())
		if !ok {
			return
		}
		frame, err := wire.DecodeInput(msg.Payload, s.epoch)
		if err != nil {
			s.logger.Debug("malformed input frame dropped", log.String("client", sess.clientID), log.Error(err))
			return
		}
		s.netsync.EnqueueInput(sess.networkID, frame)
	default:
		s.logger.Debug("unexpected message type", log.String("conn", conn.ID()), log.String("type", msg.Type.String()))
	}
}

// OnDisconnect implements protocol.Handler.
func (s *Server) OnDisconnect(conn protocol.Conn, err error) {
	connID := conn.ID()
	if err != nil {
		s.logger.Info("peer disconnected", log.String("conn", connID), log.Error(err))
	} else {
		s.logger.Info("peer disconnected", log.String("conn", connID))
	}
	s.enqueue(func() { s.leave(connID) })
}

func (s *Server) sessionFor(connID string) (*session, bool) {
	v, ok := s.sessions.Load(connID)
	if !ok {
		return nil, false
	}
	return v.(*session), true
}

// join runs inside the tick: it spawns the peer's entity, replies with a
// welcome describing the room, and announces the spawn to everyone else.
func (s *Server) join(conn protocol.Conn, req JoinRequest) {
	if _, ok := s.sessionFor(conn.ID()); ok {
		return
	}

	sess := &session{
		conn:      conn,
		clientID:  uuid.NewString(),
		networkID: uuid.NewString(),
		name:      req.Name,
		joinedAt:  time.Now(),
	}

	existing := s.roomEntities()

	id := s.world.Create()
	spawn := mathx.Vec3{X: s.cfg.SpawnPosition[0], Y: s.cfg.SpawnPosition[1], Z: s.cfg.SpawnPosition[2]}
	tr := ecs.NewTransform()
	tr.Position = spawn

	phys := ecs.NewPhysics()
	phys.Collider = ecs.Collider{
		Type: ecs.ColliderCapsule,
		Size: mathx.Vec3{X: 0.5, Y: 1.8, Z: 0.5},
	}

	render := ecs.NewRender()
	render.Material.Color = playerPalette[s.joinSeq.Add(1)%uint64(len(playerPalette))]

	net := ecs.NewNetwork(sess.networkID, ecs.AuthorityClient)
	net.Owner = sess.clientID

	for _, c := range []ecs.Component{tr, phys, render, net} {
		if err := s.world.Add(id, c); err != nil {
			s.logger.Error("spawn failed", log.String("client", sess.clientID), log.Error(err))
			s.world.Destroy(id)
			_ = conn.Close()
			return
		}
	}
	sess.entity = id
	s.sessions.Store(conn.ID(), sess)

	welcome := Welcome{
		ClientID:             sess.clientID,
		NetworkID:            sess.networkID,
		EpochUnixMs:          s.epoch.UnixMilli(),
		SnapshotIntervalMs:   s.cfg.SnapshotInterval().Milliseconds(),
		InterpolationDelayMs: s.cfg.InterpolationDelay().Milliseconds(),
		Entities:             existing,
	}
	if err := s.sendJSON(conn, protocol.MsgWelcome, welcome); err != nil {
		s.logger.Warn("welcome send failed", log.String("client", sess.clientID), log.Error(err))
	}

	s.broadcastJSON(protocol.MsgSpawn, SpawnNotice{Entity: EntityInfo{
		NetworkID: sess.networkID,
		Owner:     sess.clientID,
		Authority: uint8(ecs.AuthorityClient),
	}}, conn.ID())

	s.logger.Info("client joined",
		log.String("client", sess.clientID),
		log.String("network_id", sess.networkID),
		log.String("name", sess.name),
	)
}

// leave runs inside the tick: it releases the peer's entity and announces
// the despawn.
func (s *Server) leave(connID string) {
	v, ok := s.sessions.LoadAndDelete(connID)
	if !ok {
		return
	}
	sess := v.(*session)
	s.world.Destroy(sess.entity)
	s.broadcastJSON(protocol.MsgDespawn, DespawnNotice{NetworkID: sess.networkID}, connID)
	s.logger.Info("client left", log.String("client", sess.clientID))
}

func (s *Server) roomEntities() []EntityInfo {
	var out []EntityInfo
	s.sessions.Range(func(_, v any) bool {
		sess := v.(*session)
		info := EntityInfo{NetworkID: sess.networkID, Owner: sess.clientID}
		if net, ok := s.registry.Network(sess.entity); ok {
			info.Authority = uint8(net.Authority)
		}
		out = append(out, info)
		return true
	})
	return out
}

// broadcastSnapshot encodes a captured batch once and fans it out on the
// unreliable class. Runs inside the tick via the netsync outgoing hook.
func (s *Server) broadcastSnapshot(b wire.Batch) {
	buf := s.payloads.Get()[:0]
	buf, err := s.encoder.AppendEncode(buf, b)
	if err != nil {
		s.logger.Error("snapshot encode failed", log.Error(err))
		return
	}
	msg := protocol.Message{Type: protocol.MsgSnapshot, Payload: buf}
	s.sessions.Range(func(_, v any) bool {
		sess := v.(*session)
		if err := sess.conn.Send(protocol.ClassUnreliable, msg); err != nil {
			s.logger.Debug("snapshot send failed", log.String("client", sess.clientID), log.Error(err))
		}
		return true
	})
	s.payloads.Put(buf)
}

func (s *Server) sendJSON(conn protocol.Conn, t protocol.MessageType, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Send(protocol.ClassReliable, protocol.Message{Type: t, Payload: payload})
}

func (s *Server) broadcastJSON(t protocol.MessageType, v any, exceptConnID string) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("broadcast marshal failed", log.Error(err))
		return
	}
	msg := protocol.Message{Type: t, Payload: payload}
	s.sessions.Range(func(key, v any) bool {
		if key.(string) == exceptConnID {
			return true
		}
		sess := v.(*session)
		if err := sess.conn.Send(protocol.ClassReliable, msg); err != nil {
			s.logger.Debug("broadcast send failed", log.String("client", sess.clientID), log.Error(err))
		}
		return true
	})
}

func (s *Server) enqueue(fn func()) {
	s.mu.Lock()
	s.commands = append(s.commands, fn)
	s.mu.Unlock()
}

func (s *Server) drainCommands() {
	s.mu.Lock()
	cmds := s.commands
	s.commands = nil
	s.mu.Unlock()
	for _, fn := range cmds {
		fn()
	}
}

var playerPalette = []ecs.Color{
	{R: 231, G: 76, B: 60},
	{R: 46, G: 204, B: 113},
	{R: 52, G: 152, B: 219},
	{R: 241, G: 196, B: 15},
	{R: 155, G: 89, B: 182},
	{R: 230, G: 126, B: 34},
}

// intake applies queued transport commands at the start of each tick so
// joins and leaves mutate the world only between system updates.
type intake struct {
	srv *Server
}

func (i *intake) Name() string                     { return "intake" }
func (i *intake) ShouldProcess(_ ecs.EntityID) bool { return false }
func (i *intake) Add(_ ecs.EntityID)               {}
func (i *intake) Remove(_ ecs.EntityID)            {}
func (i *intake) Update(_ float64)                 { i.srv.drainCommands() }
func (i *intake) Cleanup()                         {}
