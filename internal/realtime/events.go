package realtime

import "encoding/json"

// Client to server events.
const (
	EventLocationUpdate       = "location:update"
	EventEmergencySubscribe   = "emergency:subscribe"
	EventEmergencyUnsubscribe = "emergency:unsubscribe"
	EventEmergencyRaise       = "emergency:raise"
	EventEmergencyCancel      = "emergency:cancel"
)

// Server to client events.
const (
	EventAck                 = "ack"
	EventEmergencyNearby     = "emergency:nearby"
	EventEmergencyCancelled  = "emergency:cancelled"
	EventEmergencyAssessment = "emergency:assessment"
)

// Frame is one message on the wire. Client frames carry an ID the server
// echoes back in the matching ack; server pushes omit it.
type Frame struct {
	ID    int64           `json:"id,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}
