package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Connection is one live websocket client.
type Connection struct {
	ID     string
	UserID uint

	ws   *websocket.Conn
	send chan []byte
	hub  *Hub

	lastPing time.Time
	mu       sync.RWMutex

	closeOnce sync.Once
}

func newUpgrader(cfg *Config) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// HandleWebSocket upgrades the request and hands the connection to the hub.
// The caller has already authenticated userID.
func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request, userID uint) {
	upgrader := newUpgrader(hub.config)
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Errorf("websocket upgrade failed: %v", err)
		return
	}

	conn := &Connection{
		ID:       generateConnectionID(),
		UserID:   userID,
		ws:       ws,
		send:     make(chan []byte, hub.config.MessageBufferSize),
		hub:      hub,
		lastPing: time.Now(),
	}

	hub.register <- conn

	go conn.writePump()
	go conn.readPump()
}

func generateConnectionID() string {
	return fmt.Sprintf("conn_%d", time.Now().UnixNano())
}

// ConnID identifies the connection to registry and engine.
func (c *Connection) ConnID() string { return c.ID }

// Owner returns the authenticated user behind this connection.
func (c *Connection) Owner() uint { return c.UserID }

// SendEvent pushes a server-initiated frame. Full buffers drop the frame
// rather than block the dispatch loop.
func (c *Connection) SendEvent(event string, data interface{}) error {
	return c.push(Frame{Event: event}, data)
}

// SendAck replies to the client frame carrying id.
func (c *Connection) SendAck(id int64, data interface{}) error {
	return c.push(Frame{ID: id, Event: EventAck}, data)
}

func (c *Connection) push(f Frame, data interface{}) error {
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to encode %s payload: %w", f.Event, err)
		}
		f.Data = raw
	}
	out, err := json.Marshal(f)
	if err != nil {
		return err
	}

	select {
	case c.send <- out:
		return nil
	default:
		logrus.Warnf("connection %s send buffer full, dropping %s", c.ID, f.Event)
		return fmt.Errorf("send buffer full")
	}
}

// Close terminates the underlying socket; the read pump unregisters.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		_ = c.ws.Close()
	})
}

func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.Close()
	}()

	c.ws.SetReadLimit(c.hub.config.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.hub.config.ConnectionTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPing = time.Now()
		c.mu.Unlock()
		return c.ws.SetReadDeadline(time.Now().Add(c.hub.config.ConnectionTimeout))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.Errorf("websocket read error: %v", err)
			}
			break
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			logrus.Warnf("connection %s sent an unparseable frame: %v", c.ID, err)
			continue
		}
		c.mu.Lock()
		c.lastPing = time.Now()
		c.mu.Unlock()

		if c.hub.handler != nil {
			c.hub.handler.HandleFrame(c, frame)
		}
	}
}

func (c *Connection) writePump() {
	interval := c.hub.config.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(time.Duration(float64(interval) * 0.9))
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
