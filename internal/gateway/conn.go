package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coworklabs/cowork/internal/session"
	"github.com/coworklabs/cowork/pkg/protocol"
)

const (
	maxPayloadBytes = 1 << 20
	pongWait        = 45 * time.Second
	writeWait       = 10 * time.Second
	pingInterval    = 15 * time.Second

	sendBuf = 64
)

// wsConn is one client connection. The read loop owns dispatch; the write
// loop owns the socket for writes. Session events arrive through per-session
// subscriptions and are forwarded onto the send channel.
type wsConn struct {
	srv  *Server
	ws   *websocket.Conn
	send chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once

	mu       sync.Mutex
	attached map[string]func()
}

func newConn(srv *Server, ws *websocket.Conn) *wsConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &wsConn{
		srv:      srv,
		ws:       ws,
		send:     make(chan []byte, sendBuf),
		ctx:      ctx,
		cancel:   cancel,
		attached: map[string]func(){},
	}
}

func (c *wsConn) run() {
	go c.writeLoop()
	c.readLoop()
	c.close()
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		for id, detach := range c.attached {
			delete(c.attached, id)
			detach()
		}
		c.mu.Unlock()
		c.ws.Close()
	})
}

func (c *wsConn) readLoop() {
	c.ws.SetReadLimit(maxPayloadBytes)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		kind, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		// Binary frames are tolerated and decoded as UTF-8 JSON.
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		c.handle(raw)
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case buf, ok := <-c.send:
			if !ok {
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, buf); err != nil {
				c.cancel()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}

// sendEvent marshals and enqueues one event. A full send buffer drops the
// frame rather than stall the engine.
func (c *wsConn) sendEvent(ev protocol.Event) {
	buf, err := json.Marshal(ev)
	if err != nil {
		c.srv.logger.Error("marshal event failed", "type", ev.Type, "error", err)
		return
	}
	select {
	case c.send <- buf:
	default:
		c.srv.logger.Warn("dropping event for slow client", "type", ev.Type)
	}
}

// attach subscribes the connection to a session's event stream. Attaching
// twice to the same session is a no-op.
func (c *wsConn) attach(s *session.Session) {
	c.mu.Lock()
	if _, ok := c.attached[s.ID]; ok {
		c.mu.Unlock()
		return
	}
	ch, detach := s.Subscribe()
	c.attached[s.ID] = detach
	c.mu.Unlock()

	go func() {
		for ev := range ch {
			c.sendEvent(ev)
		}
	}()
}

// detach drops the subscription for one session.
func (c *wsConn) detach(sessionID string) {
	c.mu.Lock()
	detach := c.attached[sessionID]
	delete(c.attached, sessionID)
	c.mu.Unlock()
	if detach != nil {
		detach()
	}
}
