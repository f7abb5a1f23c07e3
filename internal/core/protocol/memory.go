package protocol

import (
	"sync/atomic"
)

// Pipe returns two connected in-memory conns for tests. A message sent on
// one side is delivered synchronously to the other side's handler, with the
// peer conn as the reply handle. Both delivery classes behave identically.
func Pipe(aID, bID string, aHandler, bHandler Handler) (Conn, Conn) {
	a := &memConn{id: aID}
	b := &memConn{id: bID}
	a.peer, a.peerHandler = b, bHandler
	b.peer, b.peerHandler = a, aHandler
	return a, b
}

type memConn struct {
	id          string
	peer        *memConn
	peerHandler Handler
	closed      atomic.Bool
}

func (c *memConn) ID() string         { return c.id }
func (c *memConn) RemoteAddr() string { return "memory:" + c.peer.id }

func (c *memConn) Send(class Class, msg Message) error {
	if c.closed.Load() || c.peer.closed.Load() {
		return ErrConnClosed
	}
	// Copy the payload so the sender may reuse its buffer.
	out := Message{Type: msg.Type, Payload: append([]byte(nil), msg.Payload...)}
	c.peerHandler.OnMessage(c.peer, class, out)
	return nil
}

func (c *memConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.peerHandler.OnDisconnect(c.peer, nil)
	return nil
}
