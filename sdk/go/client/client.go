// Package client is the game client SDK: it joins a room, runs a local
// prediction world for the controlled entity, and plays remote entities
// back through the interpolation buffer.
package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stormsync/stormsync/internal/core/ecs"
	"github.com/stormsync/stormsync/internal/core/loop"
	"github.com/stormsync/stormsync/internal/core/mathx"
	"github.com/stormsync/stormsync/internal/core/netsync"
	"github.com/stormsync/stormsync/internal/core/observability"
	"github.com/stormsync/stormsync/internal/core/observability/log"
	"github.com/stormsync/stormsync/internal/core/physics"
	"github.com/stormsync/stormsync/internal/core/protocol"
	"github.com/stormsync/stormsync/internal/core/wire"
	"github.com/stormsync/stormsync/internal/server"
)

var _ protocol.Handler = (*Client)(nil)

// Config holds client configuration.
type Config struct {
	ServerAddr string
	Transport  string // "quic" or "websocket"

	// TLSConfig is used by the QUIC transport. The default skips
	// verification; replace it for production.
	TLSConfig *tls.Config

	Name           string
	ConnectTimeout time.Duration
	TickRate       int
	Gravity        float64

	// Clock is injected into the game loop for deterministic tests.
	Clock loop.Clock
}

func DefaultConfig() Config {
	return Config{
		ServerAddr:     "127.0.0.1:7350",
		Transport:      "quic",
		TLSConfig:      &tls.Config{InsecureSkipVerify: true},
		ConnectTimeout: 10 * time.Second,
		TickRate:       60,
		Gravity:        -9.81,
	}
}

// Client owns the local replica of the room. Transport callbacks queue
// commands that the intake system applies at the start of the next tick;
// the simulation is only ever mutated inside a tick.
type Client struct {
	cfg    Config
	logger log.Log

	transport protocol.Transport
	conn      protocol.Conn

	world    *ecs.World
	registry *ecs.Registry
	bridge   *physics.Bridge
	netsync  *netsync.System
	gameLoop *loop.Loop

	epoch   time.Time
	decoder *wire.Decoder

	clientID  string
	networkID string

	inputSeq  atomic.Uint32
	welcomeCh chan struct{}

	mu       sync.Mutex
	commands []func()

	connected atomic.Bool
	closed    atomic.Bool
}

func New(cfg Config, logger log.Log) (*Client, error) {
	logger = logger.With(log.String("component", "client"))

	var transport protocol.Transport
	switch cfg.Transport {
	case "quic":
		tlsConf := cfg.TLSConfig
		if tlsConf == nil {
			tlsConf = &tls.Config{InsecureSkipVerify: true}
		}
		transport = protocol.NewQUIC(tlsConf, logger)
	case "websocket":
		transport = protocol.NewWebSocket(logger)
	default:
		return nil, ErrUnknownTransport
	}

	return &Client{
		cfg:       cfg,
		logger:    logger,
		transport: transport,
		welcomeCh: make(chan struct{}),
	}, nil
}

// Connect dials the server, joins the room and starts the local loop. It
// blocks until the welcome arrives or the timeout elapses.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.connected.CompareAndSwap(false, true) {
		return ErrAlreadyConnected
	}

	conn, err := c.transport.Dial(ctx, c.cfg.ServerAddr, c)
	if err != nil {
		c.connected.Store(false)
		return err
	}
	c.conn = conn

	payload, err := json.Marshal(server.JoinRequest{Name: c.cfg.Name})
	if err != nil {
		c.connected.Store(false)
		return err
	}
	if err = conn.Send(protocol.ClassReliable, protocol.Message{Type: protocol.MsgJoin, Payload: payload}); err != nil {
		c.connected.Store(false)
		return err
	}

	select {
	case <-c.welcomeCh:
	case <-ctx.Done():
		c.connected.Store(false)
		return ctx.Err()
	case <-time.After(c.cfg.ConnectTimeout):
		c.connected.Store(false)
		return ErrWelcomeTimeout
	}

	c.gameLoop.Start()
	c.logger.Info("connected",
		log.String("client_id", c.clientID),
		log.String("network_id", c.networkID),
	)
	return nil
}

// Close stops the loop and tears down the connection. Idempotent.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.connected.Store(false)
	if c.gameLoop != nil {
		c.gameLoop.Stop()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	return c.transport.Close()
}

// SendInput samples one input frame: it is predicted locally right away
// and sent to the server for validation on the unreliable class.
func (c *Client) SendInput(move mathx.Vec3, jump bool) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	frame := wire.InputFrame{
		Seq:       c.inputSeq.Add(1),
		Move:      move,
		Jump:      jump,
		Timestamp: time.Now(),
	}
	c.enqueue(func() {
		if err := c.netsync.ApplyLocalInput(frame); err != nil {
			c.logger.Debug("local input skipped", log.Error(err))
		}
	})

	payload, err := wire.AppendEncodeInput(nil, frame, c.epoch)
	if err != nil {
		return err
	}
	return c.conn.Send(protocol.ClassUnreliable, protocol.Message{Type: protocol.MsgInput, Payload: payload})
}

// ClientID returns the identity assigned by the server.
func (c *Client) ClientID() string { return c.clientID }

// NetworkID returns the id of the locally controlled entity.
func (c *Client) NetworkID() string { return c.networkID }

// Registry exposes the local replica for rendering and tests.
func (c *Client) Registry() *ecs.Registry { return c.registry }

// Loop exposes the local game loop so tests can drive ticks manually.
func (c *Client) Loop() *loop.Loop { return c.gameLoop }

// OnConnect implements protocol.Handler.
func (c *Client) OnConnect(conn protocol.Conn) {
	c.logger.Debug("transport connected", log.String("addr", conn.RemoteAddr()))
}

// OnMessage implements protocol.Handler. Runs on transport goroutines.
func (c *Client) OnMessage(_ protocol.Conn, _ protocol.Class, msg protocol.Message) {
	switch msg.Type {
	case protocol.MsgWelcome:
		var w server.Welcome
		if err := json.Unmarshal(msg.Payload, &w); err != nil {
			c.logger.Error("malformed welcome", log.Error(err))
			return
		}
		c.handleWelcome(w)
	case protocol.MsgSpawn:
		var n server.SpawnNotice
		if err := json.Unmarshal(msg.Payload, &n); err != nil {
			c.logger.Warn("malformed spawn notice", log.Error(err))
			return
		}
		c.enqueue(func() { c.spawnRemote(n.Entity) })
	case protocol.MsgDespawn:
		var n server.DespawnNotice
		if err := json.Unmarshal(msg.Payload, &n); err != nil {
			c.logger.Warn("malformed despawn notice", log.Error(err))
			return
		}
		c.enqueue(func() { c.despawn(n.NetworkID) })
	case protocol.MsgSnapshot:
		if c.decoder == nil {
			return
		}
		batch, err := c.decoder.Decode(msg.Payload)
		if err != nil {
			if errors.Is(err, wire.ErrStaleSequence) {
				c.logger.Debug("stale snapshot dropped")
			} else {
				c.logger.Warn("snapshot decode failed", log.Error(err))
			}
			return
		}
		c.netsync.EnqueueBatch(batch)
	default:
		c.logger.Debug("unexpected message type", log.String("type", msg.Type.String()))
	}
}

// OnDisconnect implements protocol.Handler.
func (c *Client) OnDisconnect(_ protocol.Conn, err error) {
	c.connected.Store(false)
	if err != nil {
		c.logger.Warn("disconnected", log.Error(err))
	} else {
		c.logger.Info("disconnected")
	}
}

// handleWelcome builds the local simulation around the identities and
// codec epoch the server assigned. The loop is not running yet, so the
// world can be assembled directly.
func (c *Client) handleWelcome(w server.Welcome) {
	c.clientID = w.ClientID
	c.networkID = w.NetworkID
	c.epoch = time.UnixMilli(w.EpochUnixMs)
	c.decoder = wire.NewDecoder(c.epoch)

	c.registry = ecs.NewRegistry()
	c.world = ecs.NewWorld(c.registry, c.logger)

	gravity := mathx.Vec3{Y: c.cfg.Gravity}
	c.bridge = physics.NewBridge(c.registry, physics.NewKinematic(), ecs.RoleClient, c.clientID, gravity, observability.NopSink{}, c.logger)

	nsCfg := netsync.DefaultConfig(ecs.RoleClient)
	nsCfg.LocalClientID = c.clientID
	nsCfg.SnapshotInterval = time.Duration(w.SnapshotIntervalMs) * time.Millisecond
	nsCfg.InterpolationDelay = time.Duration(w.InterpolationDelayMs) * time.Millisecond
	if c.cfg.TickRate > 0 {
		nsCfg.InputStep = 1.0 / float64(c.cfg.TickRate)
	}
	if c.cfg.Clock != nil {
		nsCfg.Clock = c.cfg.Clock.Now
	}
	c.netsync = netsync.NewSystem(c.registry, c.bridge, nsCfg, c.logger)

	c.world.Register(&intake{cli: c})
	c.world.Register(c.bridge)
	c.world.Register(c.netsync)

	loopCfg := loop.DefaultConfig()
	if c.cfg.TickRate > 0 {
		loopCfg.TickInterval = time.Second / time.Duration(c.cfg.TickRate)
	}
	if c.cfg.Clock != nil {
		loopCfg.Clock = c.cfg.Clock
	}
	c.gameLoop = loop.New(c.world, loopCfg, observability.NopSink{}, c.logger)

	c.spawnLocal()
	for _, info := range w.Entities {
		c.spawnRemote(info)
	}

	close(c.welcomeCh)
}

// spawnLocal creates the controlled entity. Its transform is corrected by
// the first authoritative snapshot.
func (c *Client) spawnLocal() {
	id := c.world.Create()
	net := ecs.NewNetwork(c.networkID, ecs.AuthorityClient)
	net.Owner = c.clientID

	phys := ecs.NewPhysics()
	phys.Collider = ecs.Collider{
		Type: ecs.ColliderCapsule,
		Size: mathx.Vec3{X: 0.5, Y: 1.8, Z: 0.5},
	}

	for _, comp := range []ecs.Component{ecs.NewTransform(), phys, ecs.NewRender(), net} {
		if err := c.world.Add(id, comp); err != nil {
			c.logger.Error("local spawn failed", log.Error(err))
			return
		}
	}
}

// spawnRemote creates an observed replica for another client's entity.
// Playback starts once its interpolation buffer holds a bracket.
func (c *Client) spawnRemote(info server.EntityInfo) {
	if _, ok := c.registry.EntityByNetworkID(info.NetworkID); ok {
		return
	}
	id := c.world.Create()
	net := ecs.NewNetwork(info.NetworkID, ecs.Authority(info.Authority))
	net.Owner = info.Owner

	for _, comp := range []ecs.Component{ecs.NewTransform(), ecs.NewPhysics(), ecs.NewRender(), net} {
		if err := c.world.Add(id, comp); err != nil {
			c.logger.Error("remote spawn failed", log.String("network_id", info.NetworkID), log.Error(err))
			return
		}
	}
}

func (c *Client) despawn(networkID string) {
	id, ok := c.registry.EntityByNetworkID(networkID)
	if !ok {
		return
	}
	c.world.Destroy(id)
}

func (c *Client) enqueue(fn func()) {
	c.mu.Lock()
	c.commands = append(c.commands, fn)
	c.mu.Unlock()
}

func (c *Client) drainCommands() {
	c.mu.Lock()
	cmds := c.commands
	c.commands = nil
	c.mu.Unlock()
	for _, fn := range cmds {
		fn()
	}
}

// intake applies queued transport commands at the start of each tick.
type intake struct {
	cli *Client
}

func (i *intake) Name() string                      { return "intake" }
func (i *intake) ShouldProcess(_ ecs.EntityID) bool { return false }
func (i *intake) Add(_ ecs.EntityID)                {}
func (i *intake) Remove(_ ecs.EntityID)             {}
func (i *intake) Update(_ float64)                  { i.cli.drainCommands() }
func (i *intake) Cleanup()                          {}
