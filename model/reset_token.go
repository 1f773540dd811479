package model

import "time"

// PasswordResetToken mirrors VerificationToken but lives in its own table,
// one live row per account.
type PasswordResetToken struct {
	ID        int    `gorm:"primaryKey;autoIncrement"`
	AccountID string `gorm:"uniqueIndex"`
	Token     string `gorm:"uniqueIndex"`
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
