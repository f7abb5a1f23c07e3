package protocol

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/stormsync/stormsync/internal/core/observability/log"
)

var _ Transport = (*WSTransport)(nil)

// WSTransport carries both delivery classes over a single ordered WebSocket
// connection. It has no native unreliable class, so ClassUnreliable degrades
// to reliable delivery; the class byte still travels so the receiver
// dispatches correctly.
type WSTransport struct {
	logger   log.Log
	upgrader websocket.Upgrader
	server   *http.Server
	conns    sync.Map // id -> *wsConn
	closed   atomic.Bool
}

func NewWebSocket(logger log.Log) *WSTransport {
	return &WSTransport{
		logger: logger.With(log.String("transport", "websocket")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (t *WSTransport) Name() string { return "websocket" }

func (t *WSTransport) Listen(_ context.Context, addr string, h Handler) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrListenFailed, addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ws, err := t.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.logger.Warn("upgrade failed", log.Error(err))
			return
		}
		conn := t.track(ws)
		h.OnConnect(conn)
		go conn.readLoop(h)
	})
	t.server = &http.Server{Handler: mux}

	go func() {
		if err := t.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.logger.Error("serve failed", log.Error(err))
		}
	}()
	t.logger.Info("listening", log.String("addr", ln.Addr().String()))
	return nil
}

func (t *WSTransport) Dial(ctx context.Context, addr string, h Handler) (Conn, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, "ws://"+addr+"/", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDialFailed, addr, err)
	}
	conn := t.track(ws)
	go conn.readLoop(h)
	return conn, nil
}

func (t *WSTransport) track(ws *websocket.Conn) *wsConn {
	conn := &wsConn{
		id:        uuid.NewString(),
		ws:        ws,
		transport: t,
	}
	t.conns.Store(conn.id, conn)
	return conn
}

func (t *WSTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.conns.Range(func(_, v any) bool {
		_ = v.(*wsConn).Close()
		return true
	})
	if t.server != nil {
		return t.server.Close()
	}
	return nil
}

type wsConn struct {
	id        string
	ws        *websocket.Conn
	transport *WSTransport
	writeMu   sync.Mutex
	closed    atomic.Bool
}

func (c *wsConn) ID() string         { return c.id }
func (c *wsConn) RemoteAddr() string { return c.ws.RemoteAddr().String() }

func (c *wsConn) Send(class Class, msg Message) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	if len(msg.Payload) > MaxFrameSize {
		return ErrMessageTooLarge
	}
	frame := make([]byte, 0, 2+len(msg.Payload))
	frame = append(frame, byte(class))
	frame = append(frame, byte(msg.Type))
	frame = append(frame, msg.Payload...)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *wsConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.transport.conns.Delete(c.id)
	return c.ws.Close()
}

func (c *wsConn) readLoop(h Handler) {
	defer func() {
		_ = c.Close()
	}()
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			h.OnDisconnect(c, err)
			return
		}
		if kind != websocket.BinaryMessage || len(data) < 2 {
			continue
		}
		h.OnMessage(c, Class(data[0]), Message{Type: MessageType(data[1]), Payload: data[2:]})
	}
}
