package api

import (
	"net/http"
	"time"

	"apripista/inspira-api/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TFACodeTTL is the login challenge window.
const TFACodeTTL = 10 * time.Minute

type tfaBody struct {
	Code string `json:"code" binding:"required"`
}

// VerifyTFA runs the second authentication factor. A correct, fresh code
// elevates the session exactly once: the stored code is cleared atomically
// with the transition and the session id is rotated. Expired codes and
// exhausted attempt budgets throw the caller back to a clean login.
func (a *API) VerifyTFA(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)

	sess, ok := a.currentSession(c)
	if !ok || !sess.TFAPending {
		c.JSON(http.StatusUnauthorized, gin.H{
			"status":    "no_pending_challenge",
			"error":     "There is no login waiting for a verification code",
			"requestID": requestID,
		})
		return
	}

	var data tfaBody
	if err := c.ShouldBind(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid request body",
			"requestID": requestID,
		})
		return
	}

	acc, err := a.Accounts.ByID(sess.AccountID)
	if err != nil {
		a.Sessions.Destroy(sess.ID)
		a.clearSessionCookie(c)

		c.JSON(http.StatusUnauthorized, gin.H{
			"status":    "no_pending_challenge",
			"error":     "There is no login waiting for a verification code",
			"requestID": requestID,
		})
		return
	}

	if acc.TFACode == nil || acc.TFACodeAt == nil {
		a.Sessions.Destroy(sess.ID)
		a.clearSessionCookie(c)

		c.JSON(http.StatusUnauthorized, gin.H{
			"status":    "no_pending_challenge",
			"error":     "There is no login waiting for a verification code",
			"requestID": requestID,
		})
		return
	}

	if a.Clock.Now().After(acc.TFACodeAt.Add(TFACodeTTL)) {
		a.Sessions.Destroy(sess.ID)
		a.clearSessionCookie(c)

		c.JSON(http.StatusUnauthorized, gin.H{
			"status":    "expired",
			"error":     "The verification code has expired. Please log in again",
			"requestID": requestID,
		})
		return
	}

	if data.Code != *acc.TFACode {
		sess.TFAAttempts++

		if sess.TFAAttempts >= a.TFAMaxAttempts {
			a.Sessions.Destroy(sess.ID)
			a.clearSessionCookie(c)

			zap.L().Warn("TFA attempt budget exhausted",
				zap.String("userID", acc.ID),
				zap.String("requestID", requestID),
			)

			c.JSON(http.StatusUnauthorized, gin.H{
				"status":    "invalid",
				"error":     "Too many incorrect codes. Please log in again",
				"requestID": requestID,
			})
			return
		}

		if err := a.Sessions.Save(sess); err != nil {
			internalError(c, requestID, "Failed to save session", err)
			return
		}

		c.JSON(http.StatusUnauthorized, gin.H{
			"status":    "invalid",
			"error":     "Invalid verification code. Please try again",
			"requestID": requestID,
		})
		return
	}

	// Guarded update: only the request that actually clears the stored
	// code wins the transition, a racing duplicate sees zero rows.
	res := a.DB.Model(&model.Account{}).
		Where("id = ? AND tfa_code = ?", acc.ID, data.Code).
		Updates(map[string]any{
			"tfa_code":    nil,
			"tfa_code_at": nil,
		})
	if res.Error != nil {
		internalError(c, requestID, "Failed to clear TFA challenge", res.Error)
		return
	}

	if res.RowsAffected == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{
			"status":    "no_pending_challenge",
			"error":     "There is no login waiting for a verification code",
			"requestID": requestID,
		})
		return
	}

	sess.TFAPending = false
	sess.TFAVerified = true
	sess.TFAAttempts = 0

	// Rotating the id here stops session fixation across the elevation.
	if _, err := a.Sessions.Rotate(sess); err != nil {
		internalError(c, requestID, "Failed to rotate session", err)
		return
	}

	a.setSessionCookie(c, sess)

	c.JSON(http.StatusOK, gin.H{
		"status":    "accepted",
		"message":   "Two-factor authentication verified. You are now logged in",
		"requestID": requestID,
	})
}
