package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Handler receives parsed frames and connection lifecycle events. The hub
// never interprets frames itself.
type Handler interface {
	HandleFrame(conn *Connection, frame Frame)
	// ConnectionClosed fires after a connection is unregistered. lastForUser
	// is true when the user has no other live connection.
	ConnectionClosed(userID uint, connID string, lastForUser bool)
}

// Config tunes the hub and its connections.
type Config struct {
	MaxConnections    int64
	HeartbeatInterval time.Duration
	ConnectionTimeout time.Duration
	MessageBufferSize int
	ReadBufferSize    int
	WriteBufferSize   int
	MaxMessageSize    int64
}

func DefaultConfig() *Config {
	return &Config{
		MaxConnections:    100000,
		HeartbeatInterval: 30 * time.Second,
		ConnectionTimeout: 60 * time.Second,
		MessageBufferSize: 256,
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		MaxMessageSize:    1 << 20, // raise frames carry base64 images
	}
}

// Hub tracks live connections and the user to connection mapping.
type Hub struct {
	connections     map[string]*Connection
	userConnections map[uint]map[string]bool

	register   chan *Connection
	unregister chan *Connection

	connectionCount int64
	config          *Config
	handler         Handler
	connGauge       prometheus.Gauge

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(config *Config, handler Handler) *Hub {
	if config == nil {
		config = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())

	hub := &Hub{
		connections:     make(map[string]*Connection),
		userConnections: make(map[uint]map[string]bool),
		register:        make(chan *Connection, 256),
		unregister:      make(chan *Connection, 256),
		config:          config,
		handler:         handler,
		ctx:             ctx,
		cancel:          cancel,
	}

	go hub.run()
	return hub
}

// SetConnectionsGauge exports the live connection count to the given gauge.
func (h *Hub) SetConnectionsGauge(g prometheus.Gauge) {
	h.connGauge = g
}

func (h *Hub) observeCount() {
	if h.connGauge != nil {
		h.connGauge.Set(float64(atomic.LoadInt64(&h.connectionCount)))
	}
}

func (h *Hub) run() {
	ticker := time.NewTicker(h.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case conn := <-h.register:
			h.registerConnection(conn)
		case conn := <-h.unregister:
			h.unregisterConnection(conn)
		case <-ticker.C:
			h.checkHeartbeats()
		}
	}
}

func (h *Hub) registerConnection(conn *Connection) {
	h.mu.Lock()

	if atomic.LoadInt64(&h.connectionCount) >= h.config.MaxConnections {
		h.mu.Unlock()
		conn.Close()
		logrus.Warnf("connection limit reached: %d", h.config.MaxConnections)
		return
	}

	h.connections[conn.ID] = conn
	atomic.AddInt64(&h.connectionCount, 1)

	if h.userConnections[conn.UserID] == nil {
		h.userConnections[conn.UserID] = make(map[string]bool)
	}
	h.userConnections[conn.UserID][conn.ID] = true
	h.mu.Unlock()
	h.observeCount()

	logrus.Infof("connection registered: %s, user: %d, connections: %d",
		conn.ID, conn.UserID, atomic.LoadInt64(&h.connectionCount))
}

func (h *Hub) unregisterConnection(conn *Connection) {
	h.mu.Lock()
	if _, exists := h.connections[conn.ID]; !exists {
		h.mu.Unlock()
		return
	}

	delete(h.connections, conn.ID)
	atomic.AddInt64(&h.connectionCount, -1)

	lastForUser := false
	if h.userConnections[conn.UserID] != nil {
		delete(h.userConnections[conn.UserID], conn.ID)
		if len(h.userConnections[conn.UserID]) == 0 {
			delete(h.userConnections, conn.UserID)
			lastForUser = true
		}
	}
	close(conn.send)
	h.mu.Unlock()
	h.observeCount()

	logrus.Infof("connection unregistered: %s, connections: %d",
		conn.ID, atomic.LoadInt64(&h.connectionCount))

	if h.handler != nil {
		h.handler.ConnectionClosed(conn.UserID, conn.ID, lastForUser)
	}
}

func (h *Hub) checkHeartbeats() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := time.Now()
	for _, conn := range h.connections {
		conn.mu.RLock()
		stale := now.Sub(conn.lastPing) > h.config.ConnectionTimeout
		conn.mu.RUnlock()
		if stale {
			logrus.Warnf("connection %s heartbeat timed out", conn.ID)
			conn.Close()
		}
	}
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int64 {
	return atomic.LoadInt64(&h.connectionCount)
}

// UserConnectionCount returns how many live connections a user holds.
func (h *Hub) UserConnectionCount(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userConnections[userID])
}

// Close shuts the hub down and closes every connection.
func (h *Hub) Close() {
	h.cancel()

	h.mu.Lock()
	for _, conn := range h.connections {
		conn.Close()
	}
	h.mu.Unlock()

	logrus.Info("hub closed")
}
