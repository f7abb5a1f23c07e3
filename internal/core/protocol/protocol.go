// Package protocol is the transport boundary: a channel abstraction with two
// delivery classes (reliable-ordered for control traffic, unreliable for
// snapshots) over interchangeable transports. The codec's output rides the
// unreliable class; join/welcome/despawn control messages ride the reliable
// class.
package protocol

import "context"

// Class is the delivery class for a message.
type Class uint8

const (
	// ClassReliable is ordered and retransmitted. Control messages only.
	ClassReliable Class = iota
	// ClassUnreliable is unordered, undelivered messages are never
	// retransmitted. Snapshot batches only; staleness handling lives in the
	// wire decoder.
	ClassUnreliable
)

func (c Class) String() string {
	if c == ClassReliable {
		return "reliable"
	}
	return "unreliable"
}

// MessageType identifies the payload of a message.
type MessageType uint8

const (
	MsgJoin MessageType = iota
	MsgWelcome
	MsgSpawn
	MsgDespawn
	MsgInput
	MsgSnapshot
)

func (t MessageType) String() string {
	switch t {
	case MsgJoin:
		return "join"
	case MsgWelcome:
		return "welcome"
	case MsgSpawn:
		return "spawn"
	case MsgDespawn:
		return "despawn"
	case MsgInput:
		return "input"
	case MsgSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// Message is a typed payload. The payload encoding is the concern of the
// layer above (JSON for control, the wire codec for snapshots).
type Message struct {
	Type    MessageType
	Payload []byte
}

// Conn is one connected peer.
type Conn interface {
	ID() string
	RemoteAddr() string

	// Send transmits the message on the given delivery class. Transports
	// without a native unreliable class degrade it to reliable delivery.
	Send(class Class, msg Message) error

	Close() error
}

// Handler receives connection lifecycle and message callbacks. Callbacks run
// on transport goroutines; implementations must queue rather than mutate
// simulation state directly.
type Handler interface {
	OnConnect(conn Conn)
	OnMessage(conn Conn, class Class, msg Message)
	OnDisconnect(conn Conn, err error)
}

// Transport accepts and dials connections.
type Transport interface {
	Name() string

	// Listen starts accepting connections on addr, dispatching to h. It
	// returns once the listener is established; accept loops run in the
	// background until Close.
	Listen(ctx context.Context, addr string, h Handler) error

	Dial(ctx context.Context, addr string, h Handler) (Conn, error)

	Close() error
}
