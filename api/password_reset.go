package api

import (
	"errors"
	"net/http"

	"apripista/inspira-api/internal/service"
	"apripista/inspira-api/internal/store"
	"apripista/inspira-api/model"
	"apripista/inspira-api/pkg/security"
	"apripista/inspira-api/validators"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type resetRequestBody struct {
	Email string `json:"email" binding:"required"`
}

type resetCompleteBody struct {
	Password string `json:"password" binding:"required"`
}

// RequestPasswordReset issues a 1-hour reset token for verified accounts.
// The response is identical whether or not the email maps to an account so
// the endpoint can't be used to probe for registered addresses.
func (a *API) RequestPasswordReset(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)

	var data resetRequestBody
	if err := c.ShouldBind(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid request body",
			"requestID": requestID,
		})
		return
	}

	accepted := gin.H{
		"message":   "If this email is registered, password reset instructions are on their way",
		"requestID": requestID,
	}

	acc, err := a.Accounts.ByEmail(data.Email)
	if err != nil {
		if !errors.Is(err, store.ErrAccountNotFound) {
			internalError(c, requestID, "Failed to look up account", err)
			return
		}

		c.JSON(http.StatusOK, accepted)
		return
	}

	if !acc.Verified {
		zap.L().Debug("Reset requested for unverified account", zap.String("requestID", requestID))
		c.JSON(http.StatusOK, accepted)
		return
	}

	token, err := security.ChangeToken()
	if err != nil {
		internalError(c, requestID, "Failed to generate reset token", err)
		return
	}

	if err := a.Tokens.IssueReset(acc.ID, token, acc.Email); err != nil {
		internalError(c, requestID, "Failed to issue reset token", err)
		return
	}

	a.enqueue(service.NotifyResetLink, acc.Email, map[string]string{
		"username": acc.Username,
		"token":    token,
	})

	c.JSON(http.StatusOK, accepted)
}

// CompletePasswordReset consumes the reset token and stores the new password
// hash in the same transaction, so a failed completion never leaves a burnt
// token next to an unchanged password.
func (a *API) CompletePasswordReset(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)
	token := c.Param("token")

	var data resetCompleteBody
	if err := c.ShouldBind(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid request body",
			"requestID": requestID,
		})
		return
	}

	if failed := validators.PasswordPolicy(data.Password); len(failed) > 0 {
		msgs := make([]string, len(failed))
		for i, err := range failed {
			msgs[i] = err.Error()
		}

		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Password does not meet the policy",
			"details":   msgs,
			"requestID": requestID,
		})
		return
	}

	hash, err := a.Argon.Hash(data.Password)
	if err != nil {
		internalError(c, requestID, "Failed to hash password", err)
		return
	}

	// Eager sweep so stale reset rows don't linger until the cron run.
	if _, err := a.Tokens.Sweep(a.Clock.Now()); err != nil {
		zap.L().Error("Failed to sweep expired tokens", zap.Error(err), zap.String("requestID", requestID))
	}

	var reset model.Account

	err = a.Tokens.ConsumeReset(token, func(tx *gorm.DB, row *model.PasswordResetToken) error {
		res := tx.Model(&model.Account{}).
			Where("id = ?", row.AccountID).
			Update("password_hash", hash)
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			return store.ErrTokenNotFound
		}

		return tx.Where("id = ?", row.AccountID).First(&reset).Error
	})
	if err != nil {
		if errors.Is(err, store.ErrTokenNotFound) || errors.Is(err, store.ErrTokenExpired) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":     "Invalid or expired reset link. Please request a new one",
				"requestID": requestID,
			})
			return
		}

		internalError(c, requestID, "Failed to consume reset token", err)
		return
	}

	a.enqueue(service.NotifyResetDone, reset.Email, map[string]string{
		"username": reset.Username,
	})

	c.JSON(http.StatusOK, gin.H{
		"message":   "Your password has been reset. You can now log in",
		"requestID": requestID,
	})
}
