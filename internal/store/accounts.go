// Package store wraps all database access behind narrow repository types so
// the workflows never build queries themselves.
package store

import (
	"errors"

	"apripista/inspira-api/model"
	"apripista/inspira-api/pkg/clock"

	"gorm.io/gorm"
)

var ErrAccountNotFound = errors.New("account not found")

type Accounts struct {
	DB    *gorm.DB
	Clock clock.Clock
}

func NewAccounts(db *gorm.DB, c clock.Clock) *Accounts {
	return &Accounts{DB: db, Clock: c}
}

func (a *Accounts) ByID(id string) (*model.Account, error) {
	return a.first("id = ?", id)
}

func (a *Accounts) ByUsername(username string) (*model.Account, error) {
	return a.first("username = ?", username)
}

func (a *Accounts) ByEmail(email string) (*model.Account, error) {
	return a.first("email = ?", email)
}

func (a *Accounts) first(query string, arg any) (*model.Account, error) {
	var acc model.Account

	err := a.DB.Where(query, arg).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	return &acc, nil
}

// EmailOrUsernameTaken must run inside the same transaction that inserts the
// account, otherwise two concurrent registrations can both pass the check.
func (a *Accounts) EmailOrUsernameTaken(tx *gorm.DB, email, username string) (bool, error) {
	var n int64

	err := tx.Model(&model.Account{}).
		Where("email = ? OR username = ?", email, username).
		Count(&n).
		Error
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (a *Accounts) Create(tx *gorm.DB, acc *model.Account) error {
	return tx.Create(acc).Error
}

func (a *Accounts) UpdateFields(id string, fields map[string]any) error {
	res := a.DB.Model(&model.Account{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// CountActiveWithPin backs security-PIN uniqueness. Deleted accounts no
// longer occupy their PIN because their row is physically removed.
func (a *Accounts) CountActiveWithPin(pin string) (int64, error) {
	var n int64

	err := a.DB.Model(&model.Account{}).
		Where("security_pin = ?", pin).
		Count(&n).
		Error

	return n, err
}

// Archive snapshots the account into deleted_accounts and removes the row,
// both in the given transaction.
func (a *Accounts) Archive(tx *gorm.DB, acc *model.Account, reason string) error {
	err := tx.Create(&model.DeletedAccount{
		AccountID:    acc.ID,
		Username:     acc.Username,
		Email:        acc.Email,
		FirstName:    acc.FirstName,
		LastName:     acc.LastName,
		Country:      acc.Country,
		RegisteredAt: acc.RegisteredAt,
		DeletedAt:    a.Clock.Now(),
		Reason:       reason,
	}).Error
	if err != nil {
		return err
	}

	res := tx.Where("id = ?", acc.ID).Delete(&model.Account{})
	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}
