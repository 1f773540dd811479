package api

import (
	"net/http"

	"apripista/inspira-api/internal/service"
	"apripista/inspira-api/internal/session"
	"apripista/inspira-api/model"
	"apripista/inspira-api/validators"

	"github.com/gin-gonic/gin"
)

type changePasswordBody struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// ChangePassword rotates a logged-in user's password. The current password
// gates the change, and the account's session epoch is bumped so every
// session, including this one, is invalidated.
func (a *API) ChangePassword(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)
	sess := c.MustGet("session").(*session.Session)
	acc := c.MustGet("account").(*model.Account)

	var data changePasswordBody
	if err := c.ShouldBind(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid request body",
			"requestID": requestID,
		})
		return
	}

	ok, err := a.Argon.Verify(data.CurrentPassword, acc.PasswordHash)
	if err != nil {
		internalError(c, requestID, "Failed to verify password", err)
		return
	}

	if !ok {
		c.JSON(http.StatusForbidden, gin.H{
			"error":     "Incorrect current password. Please try again",
			"requestID": requestID,
		})
		return
	}

	if failed := validators.PasswordPolicy(data.NewPassword); len(failed) > 0 {
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

	hash, err := a.Argon.Hash(data.NewPassword)
	if err != nil {
		internalError(c, requestID, "Failed to hash password", err)
		return
	}

	err = a.Accounts.UpdateFields(acc.ID, map[string]any{
		"password_hash": hash,
		"session_epoch": acc.SessionEpoch + 1,
	})
	if err != nil {
		internalError(c, requestID, "Failed to update password", err)
		return
	}

	a.Sessions.Destroy(sess.ID)
	a.clearSessionCookie(c)

	a.enqueue(service.NotifyPasswordChanged, acc.Email, map[string]string{
		"username": acc.Username,
	})

	c.JSON(http.StatusOK, gin.H{
		"message":   "Password changed successfully. You have been logged out everywhere",
		"requestID": requestID,
	})
}
