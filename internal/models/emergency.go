package models

import (
	"encoding/json"
	"time"
)

// Emergency is one SOS episode. Records are append-only: IsActive only ever
// transitions true to false, ExpiresAt is immutable once set, and inactive
// records are retained forever.
type Emergency struct {
	ID        string    `gorm:"primaryKey;size:36" json:"emergencyId"`
	UserID    uint      `gorm:"index" json:"ownerId"`
	IsActive  bool      `gorm:"index" json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// Optional base64 image captured at raise time.
	Image string `json:"image,omitempty"`

	// JSON-encoded snapshots, filled in after the raise is acknowledged.
	AEDSnapshot string `json:"-"`
	Assessment  string `json:"-"`
}

// Assessment is the AI triage verdict. Failures are represented by the same
// shape with Condition "Error"; the zero value means "not assessed yet".
type Assessment struct {
	Condition string `json:"condition"`
	Severity  string `json:"severity"`
	Reasoning string `json:"reasoning"`
	Action    string `json:"action"`
	Location  string `json:"location"`
}

// FallbackAssessment is attached when the AI collaborator fails or times
// out; reason travels in Reasoning so clients can display it.
func FallbackAssessment(reason string) Assessment {
	if reason == "" {
		reason = "AI Service Unavailable."
	}
	return Assessment{
		Condition: "Error",
		Severity:  "Unknown",
		Reasoning: reason,
		Action:    "Call emergency services.",
		Location:  "Unknown",
	}
}

// DecodeAssessment parses the stored JSON column; ok is false when the
// record was never assessed.
func (e *Emergency) DecodeAssessment() (Assessment, bool) {
	if e.Assessment == "" {
		return Assessment{}, false
	}
	var a Assessment
	if err := json.Unmarshal([]byte(e.Assessment), &a); err != nil {
		return Assessment{}, false
	}
	return a, true
}
