package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormsync/stormsync/internal/core/loop"
	"github.com/stormsync/stormsync/internal/core/mathx"
	"github.com/stormsync/stormsync/internal/core/observability/log"
	"github.com/stormsync/stormsync/internal/core/protocol"
	"github.com/stormsync/stormsync/internal/core/wire"
)

var testStart = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

// testPeer collects everything the server sends to one client connection.
type testPeer struct {
	welcomes  []Welcome
	spawns    []SpawnNotice
	despawns  []DespawnNotice
	snapshots [][]byte
}

func (p *testPeer) OnConnect(_ protocol.Conn) {}

func (p *testPeer) OnMessage(_ protocol.Conn, _ protocol.Class, msg protocol.Message) {
	switch msg.Type {
	case protocol.MsgWelcome:
		var w Welcome
		if json.Unmarshal(msg.Payload, &w) == nil {
			p.welcomes = append(p.welcomes, w)
		}
	case protocol.MsgSpawn:
		var n SpawnNotice
		if json.Unmarshal(msg.Payload, &n) == nil {
			p.spawns = append(p.spawns, n)
		}
	case protocol.MsgDespawn:
		var n DespawnNotice
		if json.Unmarshal(msg.Payload, &n) == nil {
			p.despawns = append(p.despawns, n)
		}
	case protocol.MsgSnapshot:
		p.snapshots = append(p.snapshots, append([]byte(nil), msg.Payload...))
	}
}

func (p *testPeer) OnDisconnect(_ protocol.Conn, _ error) {}

func newTestServer() (*Server, *loop.ManualClock) {
	clock := loop.NewManualClock(testStart)
	cfg := DefaultConfig()
	cfg.Clock = clock
	return New(cfg, log.NewNop()), clock
}

// connect wires a fake client to the server over an in-memory pipe and
// performs the join handshake.
func connect(t *testing.T, s *Server, name string) (protocol.Conn, *testPeer, Welcome) {
	t.Helper()
	peer := &testPeer{}
	clientConn, serverConn := protocol.Pipe("client-"+name, "server-"+name, peer, s)
	s.OnConnect(serverConn)

	payload, err := json.Marshal(JoinRequest{Name: name})
	require.NoError(t, err)
	require.NoError(t, clientConn.Send(protocol.ClassReliable, protocol.Message{Type: protocol.MsgJoin, Payload: payload}))

	s.Loop().Step()
	require.Len(t, peer.welcomes, 1, "welcome not received")
	return clientConn, peer, peer.welcomes[0]
}

func TestServerJoinHandshake(t *testing.T) {
	s, _ := newTestServer()

	_, _, welcome := connect(t, s, "alice")
	assert.NotEmpty(t, welcome.ClientID)
	assert.NotEmpty(t, welcome.NetworkID)
	assert.Equal(t, s.Epoch().UnixMilli(), welcome.EpochUnixMs)
	assert.Empty(t, welcome.Entities)

	id, ok := s.World().Registry().EntityByNetworkID(welcome.NetworkID)
	require.True(t, ok)

	net, ok := s.World().Registry().Network(id)
	require.True(t, ok)
	assert.Equal(t, welcome.ClientID, net.Owner)

	tr, ok := s.World().Registry().Transform(id)
	require.True(t, ok)
	assert.Equal(t, 1.0, tr.Position.Y)
}

func TestServerAnnouncesSpawnsToOthers(t *testing.T) {
	s, _ := newTestServer()

	_, alicePeer, aliceWelcome := connect(t, s, "alice")
	_, _, bobWelcome := connect(t, s, "bob")

	// Bob's welcome lists Alice's entity; Alice hears about Bob's spawn.
	require.Len(t, bobWelcome.Entities, 1)
	assert.Equal(t, aliceWelcome.NetworkID, bobWelcome.Entities[0].NetworkID)

	require.Len(t, alicePeer.spawns, 1)
	assert.Equal(t, bobWelcome.NetworkID, alicePeer.spawns[0].Entity.NetworkID)
}

func TestServerBroadcastsSnapshots(t *testing.T) {
	s, clock := newTestServer()

	_, peer, welcome := connect(t, s, "alice")
	require.NotEmpty(t, peer.snapshots)

	// Decode with the epoch the welcome advertised.
	dec := wire.NewDecoder(time.UnixMilli(welcome.EpochUnixMs))
	batch, err := dec.Decode(peer.snapshots[0])
	require.NoError(t, err)
	require.Len(t, batch.Records, 1)
	assert.Equal(t, wire.IDFor(welcome.NetworkID), batch.Records[0].ID)

	// The next snapshot only goes out after the interval elapses.
	count := len(peer.snapshots)
	clock.Advance(10 * time.Millisecond)
	s.Loop().Step()
	assert.Len(t, peer.snapshots, count)

	clock.Advance(50 * time.Millisecond)
	s.Loop().Step()
	require.Len(t, peer.snapshots, count+1)

	next, err := dec.Decode(peer.snapshots[count])
	require.NoError(t, err)
	assert.Greater(t, next.Sequence, batch.Sequence)
}

func TestServerValidatesClientInput(t *testing.T) {
	s, clock := newTestServer()

	clientConn, _, welcome := connect(t, s, "alice")

	frame := wire.InputFrame{
		Seq:       1,
		Move:      mathx.Vec3{X: 3},
		Timestamp: clock.Now(),
	}
	payload, err := wire.AppendEncodeInput(nil, frame, s.Epoch())
	require.NoError(t, err)
	require.NoError(t, clientConn.Send(protocol.ClassUnreliable, protocol.Message{Type: protocol.MsgInput, Payload: payload}))

	clock.Advance(16 * time.Millisecond)
	s.Loop().Step()

	id, _ := s.World().Registry().EntityByNetworkID(welcome.NetworkID)
	phys, ok := s.World().Registry().Physics(id)
	require.True(t, ok)
	assert.InDelta(t, 3.0, phys.Velocity.X, 1e-9)

	net, _ := s.World().Registry().Network(id)
	assert.Equal(t, uint32(1), net.LastProcessedInputSeq)
}

func TestServerReleasesEntityOnDisconnect(t *testing.T) {
	s, _ := newTestServer()

	aliceConn, _, aliceWelcome := connect(t, s, "alice")
	_, bobPeer, _ := connect(t, s, "bob")

	require.NoError(t, aliceConn.Close())
	s.Loop().Step()

	_, ok := s.World().Registry().EntityByNetworkID(aliceWelcome.NetworkID)
	assert.False(t, ok)

	require.Len(t, bobPeer.despawns, 1)
	assert.Equal(t, aliceWelcome.NetworkID, bobPeer.despawns[0].NetworkID)
}

func TestServerIgnoresMalformedMessages(t *testing.T) {
	s, _ := newTestServer()

	clientConn, peer, _ := connect(t, s, "alice")

	// Garbage input and an unknown type must not disturb the session.
	require.NoError(t, clientConn.Send(protocol.ClassUnreliable, protocol.Message{Type: protocol.MsgInput, Payload: []byte{1, 2}}))
	require.NoError(t, clientConn.Send(protocol.ClassReliable, protocol.Message{Type: protocol.MessageType(200)}))

	s.Loop().Step()
	require.Len(t, peer.welcomes, 1)
}

func TestServerStartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transport = "websocket"
	cfg.ListenAddr = "127.0.0.1:0"
	s := New(cfg, log.NewNop())

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrNotRunning)
}

func TestServerRejectsUnknownTransport(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transport = "carrier-pigeon"
	s := New(cfg, log.NewNop())
	require.ErrorIs(t, s.Start(context.Background()), ErrUnknownTransport)
}
