package model

import "time"

// DeletedAccount archives the identifying fields of an account at the moment
// it is removed. Written in the same transaction as the delete.
type DeletedAccount struct {
	ID           int    `gorm:"primaryKey;autoIncrement"`
	AccountID    string `gorm:"index"`
	Username     string
	Email        string
	FirstName    string
	LastName     string
	Country      string
	RegisteredAt time.Time
	DeletedAt    time.Time
	Reason       string
}
