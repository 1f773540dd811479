package store

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"apripista/inspira-api/model"
	"apripista/inspira-api/pkg/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		model.Account{},
		model.VerificationToken{},
		model.PasswordResetToken{},
		model.DeletedAccount{},
		model.ResendRequest{},
	))

	return db
}

func seedAccount(t *testing.T, db *gorm.DB, id string) {
	t.Helper()

	require.NoError(t, db.Create(&model.Account{
		ID:           id,
		Username:     "user_" + id,
		Email:        id + "@example.com",
		PasswordHash: "x",
		SecurityPin:  "pin" + id,
	}).Error)
}

func TestIssueSupersedesPriorToken(t *testing.T) {
	db := testDB(t)
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	tokens := NewTokens(db, clk)

	seedAccount(t, db, "a1")

	require.NoError(t, tokens.Issue("a1", PurposeRegistration, "tok-old", "a1@example.com", RegistrationTokenTTL))
	require.NoError(t, tokens.Issue("a1", PurposeRegistration, "tok-new", "a1@example.com", RegistrationTokenTTL))

	var n int64
	require.NoError(t, db.Model(&model.VerificationToken{}).Where("account_id = ?", "a1").Count(&n).Error)
	assert.EqualValues(t, 1, n)

	// The superseded token is gone for good.
	err := tokens.Consume(PurposeRegistration, "tok-old", func(*gorm.DB, *model.VerificationToken) error { return nil })
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestConsumeDeletesExactlyOnce(t *testing.T) {
	db := testDB(t)
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	tokens := NewTokens(db, clk)

	seedAccount(t, db, "a1")
	require.NoError(t, tokens.Issue("a1", PurposeRegistration, "tok", "a1@example.com", RegistrationTokenTTL))

	mutations := 0
	consume := func() error {
		return tokens.Consume(PurposeRegistration, "tok", func(tx *gorm.DB, row *model.VerificationToken) error {
			mutations++
			return nil
		})
	}

	require.NoError(t, consume())
	assert.ErrorIs(t, consume(), ErrTokenNotFound)
	assert.Equal(t, 1, mutations)
}

func TestConsumeConcurrentExactlyOnce(t *testing.T) {
	// A file-backed database so the goroutines contend through real
	// connections instead of a shared in-memory cache.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.Join(t.TempDir(), "tokens.db"))

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		model.Account{},
		model.VerificationToken{},
		model.PasswordResetToken{},
	))

	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	tokens := NewTokens(db, clk)

	seedAccount(t, db, "a1")
	require.NoError(t, tokens.Issue("a1", PurposeRegistration, "tok", "a1@example.com", RegistrationTokenTTL))

	var (
		successes atomic.Int32
		mutations atomic.Int32
		wg        sync.WaitGroup
	)

	start := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()
			<-start

			err := tokens.Consume(PurposeRegistration, "tok", func(*gorm.DB, *model.VerificationToken) error {
				mutations.Add(1)
				return nil
			})
			if err == nil {
				successes.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	// Whatever the losers ran into, the token side effects happened
	// exactly once and the row is gone.
	assert.EqualValues(t, 1, successes.Load())
	assert.EqualValues(t, 1, mutations.Load())

	var n int64
	require.NoError(t, db.Model(&model.VerificationToken{}).Where("token = ?", "tok").Count(&n).Error)
	assert.EqualValues(t, 0, n)
}

func TestConsumeRespectsPurpose(t *testing.T) {
	db := testDB(t)
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	tokens := NewTokens(db, clk)

	seedAccount(t, db, "a1")
	require.NoError(t, tokens.Issue("a1", PurposeRegistration, "tok", "a1@example.com", RegistrationTokenTTL))

	err := tokens.Consume(PurposeEmailChange, "tok", func(*gorm.DB, *model.VerificationToken) error { return nil })
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestConsumeExpiryBoundary(t *testing.T) {
	db := testDB(t)
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	tokens := NewTokens(db, clk)

	seedAccount(t, db, "a1")
	require.NoError(t, tokens.Issue("a1", PurposeRegistration, "tok", "a1@example.com", RegistrationTokenTTL))

	// Valid at exactly issuance+10min, expired strictly after.
	clk.Advance(RegistrationTokenTTL)

	reissue := func() {
		require.NoError(t, tokens.Issue("a1", PurposeRegistration, "tok", "a1@example.com", RegistrationTokenTTL))
	}

	err := tokens.Consume(PurposeRegistration, "tok", func(*gorm.DB, *model.VerificationToken) error { return nil })
	require.NoError(t, err)

	reissue()
	clk.Advance(RegistrationTokenTTL + time.Second)

	err = tokens.Consume(PurposeRegistration, "tok", func(*gorm.DB, *model.VerificationToken) error { return nil })
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestConsumeRollsBackOnMutationFailure(t *testing.T) {
	db := testDB(t)
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	tokens := NewTokens(db, clk)

	seedAccount(t, db, "a1")
	require.NoError(t, tokens.Issue("a1", PurposeRegistration, "tok", "a1@example.com", RegistrationTokenTTL))

	boom := fmt.Errorf("mutation failed")

	err := tokens.Consume(PurposeRegistration, "tok", func(*gorm.DB, *model.VerificationToken) error { return boom })
	require.ErrorIs(t, err, boom)

	// The failed consumption must not have burnt the token.
	err = tokens.Consume(PurposeRegistration, "tok", func(*gorm.DB, *model.VerificationToken) error { return nil })
	assert.NoError(t, err)
}

func TestResetTokenLifecycle(t *testing.T) {
	db := testDB(t)
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	tokens := NewTokens(db, clk)

	seedAccount(t, db, "a1")

	require.NoError(t, tokens.IssueReset("a1", "rst-old", "a1@example.com"))
	require.NoError(t, tokens.IssueReset("a1", "rst-new", "a1@example.com"))

	var n int64
	require.NoError(t, db.Model(&model.PasswordResetToken{}).Where("account_id = ?", "a1").Count(&n).Error)
	assert.EqualValues(t, 1, n)

	err := tokens.ConsumeReset("rst-new", func(*gorm.DB, *model.PasswordResetToken) error { return nil })
	require.NoError(t, err)

	err = tokens.ConsumeReset("rst-new", func(*gorm.DB, *model.PasswordResetToken) error { return nil })
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestResetTokenExpiry(t *testing.T) {
	db := testDB(t)
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	tokens := NewTokens(db, clk)

	seedAccount(t, db, "a1")
	require.NoError(t, tokens.IssueReset("a1", "rst", "a1@example.com"))

	clk.Advance(ResetTokenTTL + time.Second)

	err := tokens.ConsumeReset("rst", func(*gorm.DB, *model.PasswordResetToken) error { return nil })
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestSweep(t *testing.T) {
	db := testDB(t)
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	tokens := NewTokens(db, clk)

	seedAccount(t, db, "a1")
	seedAccount(t, db, "a2")

	require.NoError(t, tokens.Issue("a1", PurposeRegistration, "tok-1", "a1@example.com", RegistrationTokenTTL))
	require.NoError(t, tokens.Issue("a2", PurposeEmailChange, "tok-2", "new@example.com", EmailChangeTokenTTL))
	require.NoError(t, tokens.IssueReset("a1", "rst-1", "a1@example.com"))

	// Past the registration TTL but inside the other two.
	clk.Advance(RegistrationTokenTTL + time.Minute)

	n, err := tokens.Sweep(clk.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	// Idempotent on clean state.
	n, err = tokens.Sweep(clk.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	clk.Advance(2 * time.Hour)

	n, err = tokens.Sweep(clk.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestAccountsCountActiveWithPin(t *testing.T) {
	db := testDB(t)
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	accounts := NewAccounts(db, clk)

	seedAccount(t, db, "a1")

	n, err := accounts.CountActiveWithPin("pina1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = accounts.CountActiveWithPin("unused")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestAccountsArchive(t *testing.T) {
	db := testDB(t)
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	accounts := NewAccounts(db, clk)

	seedAccount(t, db, "a1")

	acc, err := accounts.ByID("a1")
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		return accounts.Archive(tx, acc, "testing")
	})
	require.NoError(t, err)

	_, err = accounts.ByID("a1")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	var rec model.DeletedAccount
	require.NoError(t, db.Where("account_id = ?", "a1").First(&rec).Error)
	assert.Equal(t, "a1@example.com", rec.Email)
	assert.Equal(t, "testing", rec.Reason)
	assert.True(t, rec.DeletedAt.Equal(clk.Now()))

	// The archived account's PIN is free again.
	n, err := accounts.CountActiveWithPin("pina1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}
