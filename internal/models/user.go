package models

import "time"

// User is the profile aggregate. Registration and profile editing live in a
// separate service; the dispatch core reads the profile, refreshes the
// last-known location and appends emergency records.
type User struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Username    string `gorm:"uniqueIndex" json:"username"`
	Name        string `json:"name"`
	Birthday    time.Time
	PhoneNumber string `json:"phoneNumber"`
	Address     string `json:"-"`
	Gender      string `json:"-"`
	// PasswordHash is owned by the auth service; never touched here.
	PasswordHash string `json:"-"`

	// SessionEpoch is the unix timestamp of the most recent login. Tokens
	// minted before it are refused at handshake (single active device).
	SessionEpoch int64 `json:"-"`

	// Last-known coordinate, last-write-wins, no history.
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`

	Medical     []MedicalHistory `gorm:"foreignKey:UserID" json:"medical"`
	Skills      []Skill          `gorm:"foreignKey:UserID" json:"skills"`
	Dependents  []Dependent      `gorm:"foreignKey:UserID" json:"-"`
	Emergencies []Emergency      `gorm:"foreignKey:UserID" json:"-"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasLocation reports whether a last-known coordinate is on record.
func (u *User) HasLocation() bool { return u.Latitude != nil && u.Longitude != nil }

type MedicalHistory struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	UserID    uint   `gorm:"index" json:"-"`
	Condition string `json:"condition"`
	Treatment string `json:"treatment"`
	Remarks   string `json:"remarks"`
}

// Skill levels: "adequate" "proficient" "professional"
type Skill struct {
	ID     uint   `gorm:"primaryKey" json:"-"`
	UserID uint   `gorm:"index" json:"-"`
	Name   string `json:"name"`
	Level  string `json:"level"`
}

type Dependent struct {
	ID          uint   `gorm:"primaryKey"`
	UserID      uint   `gorm:"index"`
	DependsOn   string
	PhoneNumber string
}
