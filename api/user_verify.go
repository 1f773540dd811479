package api

import (
	"errors"
	"net/http"

	"apripista/inspira-api/internal/service"
	"apripista/inspira-api/internal/store"
	"apripista/inspira-api/model"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// VerifyRegistration consumes a registration token and marks the account
// verified. Unknown and expired tokens get the same answer so the endpoint
// can't be used as a token oracle.
func (a *API) VerifyRegistration(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)
	token := c.Param("token")

	var verified model.Account

	err := a.Tokens.Consume(store.PurposeRegistration, token, func(tx *gorm.DB, row *model.VerificationToken) error {
		res := tx.Model(&model.Account{}).
			Where("id = ?", row.AccountID).
			Update("verified", true)
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			return store.ErrTokenNotFound
		}

		return tx.Where("id = ?", row.AccountID).First(&verified).Error
	})
	if err != nil {
		if errors.Is(err, store.ErrTokenNotFound) || errors.Is(err, store.ErrTokenExpired) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":     "Invalid or expired verification token. Please request a new one",
				"requestID": requestID,
			})
			return
		}

		internalError(c, requestID, "Failed to consume verification token", err)
		return
	}

	a.enqueue(service.NotifyWelcome, verified.Email, map[string]string{
		"username": verified.Username,
	})

	c.JSON(http.StatusOK, gin.H{
		"message":   "Your email has been verified. You can now log in",
		"requestID": requestID,
	})
}
