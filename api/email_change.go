package api

import (
	"errors"
	"net/http"

	"apripista/inspira-api/internal/service"
	"apripista/inspira-api/internal/session"
	"apripista/inspira-api/internal/store"
	"apripista/inspira-api/model"
	"apripista/inspira-api/pkg/security"
	"apripista/inspira-api/validators"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type changeEmailBody struct {
	OldEmail string `json:"old_email" binding:"required"`
	NewEmail string `json:"new_email" binding:"required"`
}

var errEmailTaken = errors.New("email address already in use")

// ChangeEmail starts the two-phase email change. The caller must know the
// current address, the new one must be free, and the account loses its
// verified status until the new address confirms. The old address gets a
// tamper notice with the new one masked.
func (a *API) ChangeEmail(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)
	sess := c.MustGet("session").(*session.Session)
	acc := c.MustGet("account").(*model.Account)

	var data changeEmailBody
	if err := c.ShouldBind(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid request body",
			"requestID": requestID,
		})
		return
	}

	if data.OldEmail != acc.Email {
		c.JSON(http.StatusForbidden, gin.H{
			"error":     "The provided current email does not match the email associated with your account",
			"requestID": requestID,
		})
		return
	}

	if err := validators.EmailValidator(data.NewEmail); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     err.Error(),
			"requestID": requestID,
		})
		return
	}

	if _, err := a.Accounts.ByEmail(data.NewEmail); err == nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":     "Email address is already in use",
			"requestID": requestID,
		})
		return
	} else if !errors.Is(err, store.ErrAccountNotFound) {
		internalError(c, requestID, "Failed to check email availability", err)
		return
	}

	token, err := security.ChangeToken()
	if err != nil {
		internalError(c, requestID, "Failed to generate verification token", err)
		return
	}

	// Token issuance and the verified-flag flip commit together: from
	// here on the account needs the new address to confirm.
	err = a.DB.Transaction(func(tx *gorm.DB) error {
		err := a.Tokens.IssueTx(tx, acc.ID, store.PurposeEmailChange, token, data.NewEmail, store.EmailChangeTokenTTL)
		if err != nil {
			return err
		}

		return tx.Model(&model.Account{}).
			Where("id = ?", acc.ID).
			Update("verified", false).
			Error
	})
	if err != nil {
		internalError(c, requestID, "Failed to start email change", err)
		return
	}

	a.enqueue(service.NotifyEmailChangeNotice, acc.Email, map[string]string{
		"username":     acc.Username,
		"masked_email": service.MaskEmail(data.NewEmail),
	})
	a.enqueue(service.NotifyEmailChangeVerify, data.NewEmail, map[string]string{
		"username": acc.Username,
		"token":    token,
	})

	// The identity behind the session is changing, force a fresh login.
	a.Sessions.Destroy(sess.ID)
	a.clearSessionCookie(c)

	c.JSON(http.StatusOK, gin.H{
		"message":   "A verification email has been sent to your new address. Please verify it to continue",
		"requestID": requestID,
	})
}

// VerifyNewEmail finishes the email change: consuming the token activates
// the new address and restores the verified flag in one transaction.
func (a *API) VerifyNewEmail(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)
	token := c.Param("token")

	var (
		changed  model.Account
		oldEmail string
	)

	err := a.Tokens.Consume(store.PurposeEmailChange, token, func(tx *gorm.DB, row *model.VerificationToken) error {
		if err := tx.Where("id = ?", row.AccountID).First(&changed).Error; err != nil {
			return err
		}

		oldEmail = changed.Email

		// The address was free when the change started but someone may
		// have registered it since. Re-check here instead of letting the
		// unique index blow the request up.
		var n int64
		err := tx.Model(&model.Account{}).
			Where("email = ? AND id <> ?", row.Email, row.AccountID).
			Count(&n).
			Error
		if err != nil {
			return err
		}

		if n > 0 {
			return errEmailTaken
		}

		res := tx.Model(&model.Account{}).
			Where("id = ?", row.AccountID).
			Updates(map[string]any{
				"email":    row.Email,
				"verified": true,
			})
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			return store.ErrTokenNotFound
		}

		changed.Email = row.Email
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrTokenNotFound) || errors.Is(err, store.ErrTokenExpired) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":     "Invalid or expired verification link. Please request a new one",
				"requestID": requestID,
			})
			return
		}

		if errors.Is(err, errEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{
				"error":     "Email address is already in use. Please restart the change with another one",
				"requestID": requestID,
			})
			return
		}

		internalError(c, requestID, "Failed to consume email-change token", err)
		return
	}

	a.enqueue(service.NotifyEmailChangeDone, oldEmail, map[string]string{
		"username": changed.Username,
	})
	a.enqueue(service.NotifyEmailChangeDone, changed.Email, map[string]string{
		"username": changed.Username,
	})

	c.JSON(http.StatusOK, gin.H{
		"message":   "Your new email address has been verified. Please log in to continue",
		"requestID": requestID,
	})
}
