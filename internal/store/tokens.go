package store

import (
	"errors"
	"time"

	"apripista/inspira-api/model"
	"apripista/inspira-api/pkg/clock"

	"gorm.io/gorm"
)

// Token purposes. Tokens of different purposes are never interchangeable.
const (
	PurposeRegistration = "registration_verify"
	PurposeEmailChange  = "email_change_verify"
)

// Token lifetimes, fixed offsets from issuance.
const (
	RegistrationTokenTTL = 10 * time.Minute
	EmailChangeTokenTTL  = 30 * time.Minute
	ResetTokenTTL        = time.Hour
)

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token expired")
)

// Tokens is the single source of truth for time-limited secrets. Issuance
// supersedes any live token of the same purpose; consumption deletes the row
// in the same transaction as the dependent account mutation so a token can
// never be replayed.
type Tokens struct {
	DB    *gorm.DB
	Clock clock.Clock
}

func NewTokens(db *gorm.DB, c clock.Clock) *Tokens {
	return &Tokens{DB: db, Clock: c}
}

// Issue upserts a verification token: the account keeps at most one live
// token per purpose.
func (t *Tokens) Issue(accountID, purpose, token, email string, ttl time.Duration) error {
	return t.DB.Transaction(func(tx *gorm.DB) error {
		return t.IssueTx(tx, accountID, purpose, token, email, ttl)
	})
}

// IssueTx is Issue inside a caller-owned transaction, used when token
// issuance must commit atomically with account creation or mutation.
func (t *Tokens) IssueTx(tx *gorm.DB, accountID, purpose, token, email string, ttl time.Duration) error {
	err := tx.Where("account_id = ? AND purpose = ?", accountID, purpose).
		Delete(&model.VerificationToken{}).
		Error
	if err != nil {
		return err
	}

	now := t.Clock.Now()

	return tx.Create(&model.VerificationToken{
		AccountID: accountID,
		Purpose:   purpose,
		Token:     token,
		Email:     email,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}).Error
}

// Consume looks a token up by value (tokens arrive unauthenticated, they are
// the lookup key), checks expiry against the UTC clock and deletes the row in
// the same transaction that runs mutate. Two concurrent calls with the same
// token yield exactly one success: the loser's guarded delete affects zero
// rows and reports ErrTokenNotFound.
func (t *Tokens) Consume(purpose, token string, mutate func(tx *gorm.DB, row *model.VerificationToken) error) error {
	return t.DB.Transaction(func(tx *gorm.DB) error {
		var row model.VerificationToken

		err := tx.Where("purpose = ? AND token = ?", purpose, token).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTokenNotFound
		}
		if err != nil {
			return err
		}

		if t.Clock.Now().After(row.ExpiresAt) {
			return ErrTokenExpired
		}

		res := tx.Where("id = ?", row.ID).Delete(&model.VerificationToken{})
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			return ErrTokenNotFound
		}

		return mutate(tx, &row)
	})
}

// IssueReset upserts the account's password-reset token.
func (t *Tokens) IssueReset(accountID, token, email string) error {
	return t.DB.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("account_id = ?", accountID).
			Delete(&model.PasswordResetToken{}).
			Error
		if err != nil {
			return err
		}

		now := t.Clock.Now()

		return tx.Create(&model.PasswordResetToken{
			AccountID: accountID,
			Token:     token,
			Email:     email,
			IssuedAt:  now,
			ExpiresAt: now.Add(ResetTokenTTL),
		}).Error
	})
}

// ConsumeReset is Consume for the reset-token table.
func (t *Tokens) ConsumeReset(token string, mutate func(tx *gorm.DB, row *model.PasswordResetToken) error) error {
	return t.DB.Transaction(func(tx *gorm.DB) error {
		var row model.PasswordResetToken

		err := tx.Where("token = ?", token).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTokenNotFound
		}
		if err != nil {
			return err
		}

		if t.Clock.Now().After(row.ExpiresAt) {
			return ErrTokenExpired
		}

		res := tx.Where("id = ?", row.ID).Delete(&model.PasswordResetToken{})
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			return ErrTokenNotFound
		}

		return mutate(tx, &row)
	})
}

// Sweep deletes every expired token row. Lookups treat expired rows as
// invalid regardless, the sweep only reclaims storage. Idempotent.
func (t *Tokens) Sweep(now time.Time) (int64, error) {
	var total int64

	res := t.DB.Where("expires_at < ?", now).Delete(&model.VerificationToken{})
	if res.Error != nil {
		return total, res.Error
	}
	total += res.RowsAffected

	res = t.DB.Where("expires_at < ?", now).Delete(&model.PasswordResetToken{})
	if res.Error != nil {
		return total, res.Error
	}
	total += res.RowsAffected

	return total, nil
}
