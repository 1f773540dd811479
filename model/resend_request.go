package model

import "time"

// ResendRequest tracks verification-mail resends per account so the flow can
// enforce a cooldown between requests and block abusers for the day.
type ResendRequest struct {
	ID         int    `gorm:"primaryKey;autoIncrement"`
	AccountID  string `gorm:"uniqueIndex"`
	Count      int
	LastResend time.Time
	Blocked    bool
	BlockedAt  time.Time
}
