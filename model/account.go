// Package model contains the database models used across the application
package model

import "time"

type Account struct {
	ID           string `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;not null"`
	Email        string `gorm:"uniqueIndex;not null"`
	FirstName    string
	LastName     string
	Country      string
	PasswordHash string `gorm:"not null"`
	Verified     bool   `gorm:"default:false"`
	TFAEnabled   bool   `gorm:"default:false"`
	SecurityPin  string `gorm:"uniqueIndex"`
	Role         string `gorm:"default:user"`

	// SessionEpoch is bumped whenever every session of the account must be
	// invalidated (password change). Sessions carry the epoch they were
	// issued under.
	SessionEpoch int `gorm:"default:0"`

	// Pending TFA login challenge. At most one at a time, cleared on use.
	TFACode   *string
	TFACodeAt *time.Time

	RegisteredAt time.Time
}
