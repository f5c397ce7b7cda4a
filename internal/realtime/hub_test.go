package realtime

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu     sync.Mutex
	closed []struct {
		userID uint
		connID string
		last   bool
	}
}

func (r *recordingHandler) HandleFrame(conn *Connection, frame Frame) {}

func (r *recordingHandler) ConnectionClosed(userID uint, connID string, lastForUser bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, struct {
		userID uint
		connID string
		last   bool
	}{userID, connID, lastForUser})
}

func TestNewHub(t *testing.T) {
	hub := NewHub(nil, nil)
	assert.NotNil(t, hub)
	assert.Equal(t, int64(100000), hub.config.MaxConnections)
	assert.Equal(t, 30*time.Second, hub.config.HeartbeatInterval)

	hub.Close()
}

func TestHubConnectionManagement(t *testing.T) {
	hub := NewHub(nil, nil)
	defer hub.Close()

	conn := &Connection{
		ID:       "test_conn_1",
		UserID:   1,
		send:     make(chan []byte, 1),
		hub:      hub,
		lastPing: time.Now(),
	}

	hub.register <- conn
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, int64(1), hub.ConnectionCount())
	assert.Equal(t, 1, hub.UserConnectionCount(1))

	hub.unregister <- conn
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, int64(0), hub.ConnectionCount())
	assert.Equal(t, 0, hub.UserConnectionCount(1))
}

func TestHubReportsLastConnectionForUser(t *testing.T) {
	handler := &recordingHandler{}
	hub := NewHub(nil, handler)
	defer hub.Close()

	conn1 := &Connection{ID: "c1", UserID: 7, send: make(chan []byte, 1), hub: hub, lastPing: time.Now()}
	conn2 := &Connection{ID: "c2", UserID: 7, send: make(chan []byte, 1), hub: hub, lastPing: time.Now()}

	hub.register <- conn1
	hub.register <- conn2
	time.Sleep(100 * time.Millisecond)

	hub.unregister <- conn1
	time.Sleep(100 * time.Millisecond)

	handler.mu.Lock()
	require.Len(t, handler.closed, 1)
	assert.False(t, handler.closed[0].last)
	handler.mu.Unlock()

	hub.unregister <- conn2
	time.Sleep(100 * time.Millisecond)

	handler.mu.Lock()
	require.Len(t, handler.closed, 2)
	assert.True(t, handler.closed[1].last)
	assert.Equal(t, uint(7), handler.closed[1].userID)
	handler.mu.Unlock()
}

func TestHubExportsConnectionGauge(t *testing.T) {
	hub := NewHub(nil, nil)
	defer hub.Close()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_realtime_connections"})
	hub.SetConnectionsGauge(gauge)

	conn := &Connection{ID: "c1", UserID: 1, send: make(chan []byte, 1), hub: hub, lastPing: time.Now()}
	hub.register <- conn
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(gauge))

	hub.unregister <- conn
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, float64(0), testutil.ToFloat64(gauge))
}

func TestConnectionSendEventFraming(t *testing.T) {
	conn := &Connection{ID: "c1", UserID: 1, send: make(chan []byte, 4)}

	err := conn.SendEvent(EventEmergencyCancelled, map[string]string{"emergencyId": "e-1"})
	require.NoError(t, err)

	var frame Frame
	require.NoError(t, json.Unmarshal(<-conn.send, &frame))
	assert.Equal(t, EventEmergencyCancelled, frame.Event)
	assert.Zero(t, frame.ID)
	assert.JSONEq(t, `{"emergencyId":"e-1"}`, string(frame.Data))
}

func TestConnectionSendAckEchoesID(t *testing.T) {
	conn := &Connection{ID: "c1", UserID: 1, send: make(chan []byte, 4)}

	err := conn.SendAck(42, map[string]string{"status": "ok"})
	require.NoError(t, err)

	var frame Frame
	require.NoError(t, json.Unmarshal(<-conn.send, &frame))
	assert.Equal(t, int64(42), frame.ID)
	assert.Equal(t, EventAck, frame.Event)
	assert.JSONEq(t, `{"status":"ok"}`, string(frame.Data))
}

func TestConnectionDropsOnFullBuffer(t *testing.T) {
	conn := &Connection{ID: "c1", UserID: 1, send: make(chan []byte, 1)}

	require.NoError(t, conn.SendEvent(EventEmergencyCancelled, nil))
	assert.Error(t, conn.SendEvent(EventEmergencyCancelled, nil))
}
