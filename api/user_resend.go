package api

import (
	"errors"
	"net/http"
	"time"

	"apripista/inspira-api/internal/service"
	"apripista/inspira-api/internal/store"
	"apripista/inspira-api/model"
	"apripista/inspira-api/pkg/security"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type resendBody struct {
	Email string `json:"email" binding:"required"`
}

// ResendVerification re-issues the registration token, superseding the
// previous one. Idempotent for verified accounts, rate limited per account.
func (a *API) ResendVerification(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)

	var data resendBody
	if err := c.ShouldBind(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid request body",
			"requestID": requestID,
		})
		return
	}

	acc, err := a.Accounts.ByEmail(data.Email)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":     "No account is registered under this email",
				"requestID": requestID,
			})
			return
		}

		internalError(c, requestID, "Failed to look up account", err)
		return
	}

	if acc.Verified {
		c.JSON(http.StatusOK, gin.H{
			"message":   "Your account is already verified. You can log in",
			"requestID": requestID,
		})
		return
	}

	allowed, retryMsg, err := a.checkResendBudget(acc.ID)
	if err != nil {
		internalError(c, requestID, "Failed to check resend budget", err)
		return
	}

	if !allowed {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":     retryMsg,
			"requestID": requestID,
		})
		return
	}

	token, err := security.RegistrationToken()
	if err != nil {
		internalError(c, requestID, "Failed to generate verification token", err)
		return
	}

	err = a.Tokens.Issue(acc.ID, store.PurposeRegistration, token, acc.Email, store.RegistrationTokenTTL)
	if err != nil {
		internalError(c, requestID, "Failed to issue verification token", err)
		return
	}

	a.enqueue(service.NotifyRegistrationVerify, acc.Email, map[string]string{
		"username": acc.Username,
		"token":    token,
	})

	c.JSON(http.StatusOK, gin.H{
		"message":   "A new verification email is on its way",
		"requestID": requestID,
	})
}

// checkResendBudget enforces a cooldown between resends and a daily cap.
func (a *API) checkResendBudget(accountID string) (allowed bool, msg string, err error) {
	now := a.Clock.Now()

	var req model.ResendRequest

	err = a.DB.Where("account_id = ?", accountID).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = a.DB.Create(&model.ResendRequest{
			AccountID:  accountID,
			Count:      1,
			LastResend: now,
		}).Error

		return err == nil, "", err
	}
	if err != nil {
		return false, "", err
	}

	if req.Blocked && now.Sub(req.BlockedAt) < 24*time.Hour {
		return false, "Too many resend requests. Try again tomorrow", nil
	}

	if now.Sub(req.LastResend) < a.ResendCooldown {
		return false, "Please wait a moment before requesting another email", nil
	}

	// A day without requests resets the budget.
	count := req.Count + 1
	if now.Sub(req.LastResend) > 24*time.Hour {
		count = 1
	}

	updates := map[string]any{
		"count":       count,
		"last_resend": now,
		"blocked":     false,
	}

	if count > a.ResendDailyLimit {
		updates["blocked"] = true
		updates["blocked_at"] = now
	}

	err = a.DB.Model(&model.ResendRequest{}).Where("id = ?", req.ID).Updates(updates).Error
	if err != nil {
		return false, "", err
	}

	if count > a.ResendDailyLimit {
		return false, "Too many resend requests. Try again tomorrow", nil
	}

	return true, "", nil
}
