package dispatch

import (
	"encoding/json"

	"Lifeline/internal/realtime"
	"Lifeline/pkg/errors"
)

// HandleFrame implements realtime.Handler. Frames that mutate emergency
// state go through the command loop; location reports are persisted
// directly since only their latest value matters.
func (e *Engine) HandleFrame(conn *realtime.Connection, frame realtime.Frame) {
	switch frame.Event {
	case realtime.EventLocationUpdate:
		var req LocationRequest
		if !e.decode(conn, frame, &req) {
			return
		}
		if err := e.locations.Update(e.ctx, conn.Owner(), req.Latitude, req.Longitude); err != nil {
			e.ackError(conn, frame.ID, err)
			return
		}
		e.ackOK(conn, frame.ID)

	case realtime.EventEmergencyRaise:
		var req RaiseRequest
		if !e.decode(conn, frame, &req) {
			return
		}
		e.Raise(conn, frame.ID, req)

	case realtime.EventEmergencyCancel:
		var req CancelRequest
		if !e.decode(conn, frame, &req) {
			return
		}
		e.Cancel(conn, frame.ID, req)

	case realtime.EventEmergencySubscribe:
		e.Subscribe(conn, frame.ID)

	case realtime.EventEmergencyUnsubscribe:
		e.Unsubscribe(conn, frame.ID)

	default:
		e.ackError(conn, frame.ID, errors.WithCodef(errors.CodeValidation, "unknown event %q", frame.Event))
	}
}

func (e *Engine) decode(s Sender, frame realtime.Frame, into interface{}) bool {
	if err := json.Unmarshal(frame.Data, into); err != nil {
		e.ackError(s, frame.ID, errors.WithCodef(errors.CodeValidation, "malformed %s payload", frame.Event))
		return false
	}
	return true
}
