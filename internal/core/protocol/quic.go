package protocol

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"

	"github.com/stormsync/stormsync/internal/core/observability/log"
)

var _ Transport = (*QUICTransport)(nil)

const alpnProtocol = "stormsync/1"

// QUICTransport maps the two delivery classes onto QUIC natively: control
// messages ride a single bidirectional stream (reliable, ordered), snapshot
// batches ride datagrams (unreliable, unordered).
type QUICTransport struct {
	logger   log.Log
	tlsConf  *tls.Config
	listener *quic.Listener
	conns    sync.Map // id -> *quicConn
	closed   atomic.Bool
}

// NewQUIC builds a transport around the given TLS config. NextProtos is
// forced to the protocol's ALPN token.
func NewQUIC(tlsConf *tls.Config, logger log.Log) *QUICTransport {
	conf := tlsConf.Clone()
	conf.NextProtos = []string{alpnProtocol}
	conf.MinVersion = tls.VersionTLS13
	return &QUICTransport{
		logger:  logger.With(log.String("transport", "quic")),
		tlsConf: conf,
	}
}

func (t *QUICTransport) Name() string { return "quic" }

func quicConfig() *quic.Config {
	return &quic.Config{EnableDatagrams: true}
}

func (t *QUICTransport) Listen(ctx context.Context, addr string, h Handler) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	ln, err := quic.ListenAddr(addr, t.tlsConf, quicConfig())
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrListenFailed, addr, err)
	}
	t.listener = ln
	t.logger.Info("listening", log.String("addr", ln.Addr().String()))

	go func() {
		for {
			qc, err := ln.Accept(ctx)
			if err != nil {
				if !t.closed.Load() {
					t.logger.Warn("accept failed", log.Error(err))
				}
				return
			}
			go t.serveConn(ctx, qc, h)
		}
	}()
	return nil
}

// serveConn waits for the client's control stream, then announces the
// connection and pumps both receive paths.
func (t *QUICTransport) serveConn(ctx context.Context, qc quic.Connection, h Handler) {
	stream, err := qc.AcceptStream(ctx)
	if err != nil {
		_ = qc.CloseWithError(0, "no control stream")
		return
	}
	conn := t.track(qc, stream)
	h.OnConnect(conn)
	conn.start(ctx, h)
}

func (t *QUICTransport) Dial(ctx context.Context, addr string, h Handler) (Conn, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	qc, err := quic.DialAddr(ctx, addr, t.tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDialFailed, addr, err)
	}
	stream, err := qc.OpenStreamSync(ctx)
	if err != nil {
		_ = qc.CloseWithError(0, "control stream failed")
		return nil, fmt.Errorf("%w: %s: %v", ErrDialFailed, addr, err)
	}
	// The stream only exists for the peer once bytes flow; the first control
	// message (join) opens it in practice.
	conn := t.track(qc, stream)
	conn.start(ctx, h)
	return conn, nil
}

func (t *QUICTransport) track(qc quic.Connection, stream quic.Stream) *quicConn {
	conn := &quicConn{
		id:        uuid.NewString(),
		conn:      qc,
		stream:    stream,
		transport: t,
	}
	t.conns.Store(conn.id, conn)
	return conn
}

func (t *QUICTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.conns.Range(func(_, v any) bool {
		_ = v.(*quicConn).Close()
		return true
	})
	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}

type quicConn struct {
	id        string
	conn      quic.Connection
	stream    quic.Stream
	transport *QUICTransport
	writeMu   sync.Mutex
	closed    atomic.Bool
	discOnce  sync.Once
}

func (c *quicConn) ID() string         { return c.id }
func (c *quicConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *quicConn) Send(class Class, msg Message) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	if len(msg.Payload) > MaxFrameSize {
		return ErrMessageTooLarge
	}
	if class == ClassUnreliable {
		return c.conn.SendDatagram(packDatagram(msg))
	}
	frame := appendFrame(nil, msg)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.stream.Write(frame)
	return err
}

func (c *quicConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.transport.conns.Delete(c.id)
	return c.conn.CloseWithError(0, "closed")
}

func (c *quicConn) start(ctx context.Context, h Handler) {
	go c.readStream(h)
	go c.readDatagrams(ctx, h)
}

func (c *quicConn) readStream(h Handler) {
	header := make([]byte, 5)
	for {
		if _, err := io.ReadFull(c.stream, header); err != nil {
			c.disconnect(h, err)
			return
		}
		size := binary.LittleEndian.Uint32(header[1:5])
		if size > MaxFrameSize {
			c.disconnect(h, ErrMessageTooLarge)
			return
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(c.stream, payload); err != nil {
			c.disconnect(h, err)
			return
		}
		h.OnMessage(c, ClassReliable, Message{Type: MessageType(header[0]), Payload: payload})
	}
}

func (c *quicConn) readDatagrams(ctx context.Context, h Handler) {
	for {
		data, err := c.conn.ReceiveDatagram(ctx)
		if err != nil {
			c.disconnect(h, err)
			return
		}
		msg, err := unpackDatagram(data)
		if err != nil {
			continue
		}
		h.OnMessage(c, ClassUnreliable, msg)
	}
}

func (c *quicConn) disconnect(h Handler, err error) {
	c.discOnce.Do(func() {
		_ = c.Close()
		h.OnDisconnect(c, err)
	})
}
