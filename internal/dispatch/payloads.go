package dispatch

import (
	"time"

	"Lifeline/internal/aed"
	"Lifeline/internal/models"
)

// RaiseRequest is the decoded emergency:raise payload.
type RaiseRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Image     string  `json:"image,omitempty"`
}

// CancelRequest is the decoded emergency:cancel payload.
type CancelRequest struct {
	EmergencyID string `json:"emergencyId"`
}

// LocationRequest is the decoded location:update payload.
type LocationRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Requester is the profile snapshot responders see alongside an alert.
type Requester struct {
	ID          uint                    `json:"id"`
	Name        string                  `json:"name"`
	Username    string                  `json:"username"`
	PhoneNumber string                  `json:"phoneNumber"`
	Medical     []models.MedicalHistory `json:"medical"`
	Skills      []models.Skill          `json:"skills"`
}

func snapshotRequester(u *models.User) Requester {
	return Requester{
		ID:          u.ID,
		Name:        u.Name,
		Username:    u.Username,
		PhoneNumber: u.PhoneNumber,
		Medical:     u.Medical,
		Skills:      u.Skills,
	}
}

// NearbyPayload rides on emergency:nearby.
type NearbyPayload struct {
	EmergencyID string    `json:"emergencyId"`
	OwnerID     uint      `json:"ownerId"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Distance    float64   `json:"distance"`
	Image       string    `json:"image,omitempty"`
	NearestAEDs []aed.AED `json:"nearestAEDs"`
	Requester   Requester `json:"requester"`
}

// CancelledPayload rides on emergency:cancelled.
type CancelledPayload struct {
	EmergencyID string `json:"emergencyId"`
	OwnerID     uint   `json:"ownerId"`
}

// AssessmentPayload rides on emergency:assessment.
type AssessmentPayload struct {
	EmergencyID string            `json:"emergencyId"`
	Assessment  models.Assessment `json:"assessment"`
}

// RaiseAck acknowledges a successful raise.
type RaiseAck struct {
	Status      string    `json:"status"`
	EmergencyID string    `json:"emergencyId"`
	ExpiresAt   time.Time `json:"expiresAt"`
	NearestAEDs []aed.AED `json:"nearestAEDs"`
}

// OKAck acknowledges cancel, subscribe, unsubscribe and location frames.
type OKAck struct {
	Status string `json:"status"`
}

// ErrorAck carries the taxonomy code and message back to the caller. Errors
// never fan out to other connections.
type ErrorAck struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}
