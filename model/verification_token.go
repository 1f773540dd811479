package model

import "time"

// VerificationToken is a purpose-scoped, time-limited secret delivered by
// mail. Tokens of different purposes never mix even if they were to collide
// in value space. At most one live row exists per (account, purpose).
type VerificationToken struct {
	ID        int    `gorm:"primaryKey;autoIncrement"`
	AccountID string `gorm:"index:idx_token_account_purpose,unique"`
	Purpose   string `gorm:"index:idx_token_account_purpose,unique"`
	Token     string `gorm:"uniqueIndex"`

	// Email the token was mailed to. For email-change tokens this is the
	// new, not-yet-active address.
	Email string

	IssuedAt  time.Time
	ExpiresAt time.Time
}
