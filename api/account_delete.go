package api

import (
	"net/http"
	"time"

	"apripista/inspira-api/internal/service"
	"apripista/inspira-api/internal/session"
	"apripista/inspira-api/model"
	"apripista/inspira-api/pkg/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DeletionCodeTTL is deliberately tighter than the login TFA window:
// deleting an account is the most sensitive operation there is.
const DeletionCodeTTL = 2 * time.Minute

type deleteAccountBody struct {
	Email       string `json:"email" binding:"required"`
	Username    string `json:"username" binding:"required"`
	Password    string `json:"password" binding:"required"`
	SecurityPin string `json:"security_pin" binding:"required"`
	Reason      string `json:"reason"`
}

type confirmDeletionBody struct {
	Code string `json:"code" binding:"required"`
}

// DeleteAccount requires four independent factors: email, username,
// password and security PIN. With TFA disabled the account is archived and
// removed right away; with TFA enabled a short-lived code is mailed and the
// deletion waits for ConfirmDeletion.
func (a *API) DeleteAccount(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)
	sess := c.MustGet("session").(*session.Session)
	acc := c.MustGet("account").(*model.Account)

	var data deleteAccountBody
	if err := c.ShouldBind(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid request body",
			"requestID": requestID,
		})
		return
	}

	passwordOK, err := a.Argon.Verify(data.Password, acc.PasswordHash)
	if err != nil {
		internalError(c, requestID, "Failed to verify password", err)
		return
	}

	if data.Email != acc.Email || data.Username != acc.Username || !passwordOK || data.SecurityPin != acc.SecurityPin {
		c.JSON(http.StatusForbidden, gin.H{
			"error":     "Invalid email, username, password, or security pin",
			"requestID": requestID,
		})
		return
	}

	reason := data.Reason
	if reason == "" {
		reason = "No reason provided"
	}

	if !acc.TFAEnabled {
		if err := a.deleteNow(c, sess, acc, reason); err != nil {
			internalError(c, requestID, "Failed to delete account", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message":   "Your account has been deleted successfully",
			"requestID": requestID,
		})
		return
	}

	code, err := security.TFACode()
	if err != nil {
		internalError(c, requestID, "Failed to generate deletion code", err)
		return
	}

	sess.DeletionCode = code
	sess.DeletionCodeAt = a.Clock.Now()
	sess.DeletionReason = reason

	if err := a.Sessions.Save(sess); err != nil {
		internalError(c, requestID, "Failed to save session", err)
		return
	}

	a.enqueue(service.NotifyDeletionCode, acc.Email, map[string]string{
		"username": acc.Username,
		"code":     code,
	})

	c.JSON(http.StatusAccepted, gin.H{
		"status":    "code_sent",
		"message":   "A confirmation code has been sent to your email. It expires in 2 minutes",
		"requestID": requestID,
	})
}

// ConfirmDeletion finishes a TFA-gated deletion. A wrong or stale code
// clears the challenge and sends the caller back to the confirmation step
// with the account fully intact.
func (a *API) ConfirmDeletion(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)
	sess := c.MustGet("session").(*session.Session)
	acc := c.MustGet("account").(*model.Account)

	var data confirmDeletionBody
	if err := c.ShouldBind(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid request body",
			"requestID": requestID,
		})
		return
	}

	if sess.DeletionCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "There is no deletion waiting for confirmation",
			"requestID": requestID,
		})
		return
	}

	expired := a.Clock.Now().After(sess.DeletionCodeAt.Add(DeletionCodeTTL))

	if expired || data.Code != sess.DeletionCode {
		sess.DeletionCode = ""
		sess.DeletionCodeAt = time.Time{}

		if err := a.Sessions.Save(sess); err != nil {
			internalError(c, requestID, "Failed to save session", err)
			return
		}

		msg := "Invalid confirmation code. Please start over"
		if expired {
			msg = "The confirmation code has expired. Please start over"
		}

		c.JSON(http.StatusUnauthorized, gin.H{
			"error":     msg,
			"requestID": requestID,
		})
		return
	}

	if err := a.deleteNow(c, sess, acc, sess.DeletionReason); err != nil {
		internalError(c, requestID, "Failed to delete account", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Your account has been deleted successfully",
		"requestID": requestID,
	})
}

// deleteNow archives and removes the account transactionally, tears the
// session down and queues the confirmation mail after the commit.
func (a *API) deleteNow(c *gin.Context, sess *session.Session, acc *model.Account, reason string) error {
	err := a.DB.Transaction(func(tx *gorm.DB) error {
		return a.Accounts.Archive(tx, acc, reason)
	})
	if err != nil {
		return err
	}

	a.Sessions.Destroy(sess.ID)
	a.clearSessionCookie(c)

	a.enqueue(service.NotifyDeletionDone, acc.Email, map[string]string{
		"username": acc.Username,
	})

	zap.L().Info("Account deleted", zap.String("userID", acc.ID))

	return nil
}
