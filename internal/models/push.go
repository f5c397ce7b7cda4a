package models

import "time"

// PushSubscription is a device push endpoint registered by a client so it
// can be reached while backgrounded. Delivery itself is the gateway's job.
type PushSubscription struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"uniqueIndex:idx_user_endpoint"`
	Endpoint  string `gorm:"uniqueIndex:idx_user_endpoint;size:512"`
	P256DH    string `gorm:"column:p256dh"`
	Auth      string
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
