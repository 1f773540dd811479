package api

import (
	"fmt"
	"net/http"

	"apripista/inspira-api/internal/service"
	"apripista/inspira-api/model"

	"github.com/gin-gonic/gin"
)

type toggleTFABody struct {
	Email  string `json:"email" binding:"required"`
	Enable *bool  `json:"enable" binding:"required"`
}

// ToggleTFA flips two-factor authentication after the caller re-enters the
// account's own email. The flag changes immediately, the confirmation mail
// follows asynchronously. Toggling to the current state is a no-op.
func (a *API) ToggleTFA(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)
	acc := c.MustGet("account").(*model.Account)

	var data toggleTFABody
	if err := c.ShouldBind(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid request body",
			"requestID": requestID,
		})
		return
	}

	if data.Email != acc.Email {
		c.JSON(http.StatusForbidden, gin.H{
			"error":     "The entered email address does not match your account email",
			"requestID": requestID,
		})
		return
	}

	enable := *data.Enable

	if enable == acc.TFAEnabled {
		state := "deactivated"
		if enable {
			state = "activated"
		}

		c.JSON(http.StatusOK, gin.H{
			"message":   fmt.Sprintf("Two-factor authentication is already %s", state),
			"requestID": requestID,
		})
		return
	}

	if err := a.Accounts.UpdateFields(acc.ID, map[string]any{"tfa_enabled": enable}); err != nil {
		internalError(c, requestID, "Failed to update TFA status", err)
		return
	}

	a.enqueue(service.NotifyTFAToggled, acc.Email, map[string]string{
		"username": acc.Username,
		"enabled":  fmt.Sprintf("%t", enable),
	})

	c.JSON(http.StatusOK, gin.H{
		"message":   "Two-factor authentication updated. Check your email for confirmation",
		"requestID": requestID,
	})
}
