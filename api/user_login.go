package api

import (
	"errors"
	"net/http"

	"apripista/inspira-api/internal/service"
	"apripista/inspira-api/internal/session"
	"apripista/inspira-api/internal/store"
	"apripista/inspira-api/pkg/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type loginBody struct {
	Username   string `json:"username" binding:"required"`
	Password   string `json:"password" binding:"required"`
	RememberMe bool   `json:"remember_me"`
}

// Login runs the first authentication factor. Verified accounts with TFA
// enabled get a mailed challenge and a pending session; everyone else is
// either fully logged in or rejected. Credential failures never reveal
// whether the username exists.
func (a *API) Login(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)

	// A fully verified session resubmitted through login short-circuits.
	// A half-finished TFA attempt is discarded instead.
	if sess, ok := a.currentSession(c); ok {
		if sess.TFAVerified {
			c.JSON(http.StatusOK, gin.H{
				"status":    "already_authenticated",
				"requestID": requestID,
			})
			return
		}

		a.Sessions.Destroy(sess.ID)
	}

	var data loginBody
	if err := c.ShouldBind(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid request body",
			"requestID": requestID,
		})
		return
	}

	acc, err := a.Accounts.ByUsername(data.Username)
	if err != nil && !errors.Is(err, store.ErrAccountNotFound) {
		internalError(c, requestID, "Failed to look up account", err)
		return
	}

	ok := false
	if acc != nil {
		ok, err = a.Argon.Verify(data.Password, acc.PasswordHash)
		if err != nil {
			internalError(c, requestID, "Failed to verify password", err)
			return
		}
	}

	if acc == nil || !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":     "Invalid username or password",
			"requestID": requestID,
		})
		return
	}

	if !acc.Verified {
		c.JSON(http.StatusForbidden, gin.H{
			"error":     "Your account is not verified",
			"requestID": requestID,
		})
		return
	}

	sess := &session.Session{
		AccountID: acc.ID,
		Username:  acc.Username,
		Email:     acc.Email,
		Remember:  data.RememberMe,
		Epoch:     acc.SessionEpoch,
		CreatedAt: a.Clock.Now(),
	}

	if !acc.TFAEnabled {
		sess.TFAVerified = true

		if _, err := a.Sessions.Create(sess); err != nil {
			internalError(c, requestID, "Failed to create session", err)
			return
		}

		a.setSessionCookie(c, sess)

		c.JSON(http.StatusOK, gin.H{
			"status":    "session_established",
			"requestID": requestID,
		})
		return
	}

	code, err := security.TFACode()
	if err != nil {
		internalError(c, requestID, "Failed to generate TFA code", err)
		return
	}

	now := a.Clock.Now()

	err = a.Accounts.UpdateFields(acc.ID, map[string]any{
		"tfa_code":    code,
		"tfa_code_at": now,
	})
	if err != nil {
		internalError(c, requestID, "Failed to store TFA challenge", err)
		return
	}

	sess.TFAPending = true

	if _, err := a.Sessions.Create(sess); err != nil {
		internalError(c, requestID, "Failed to create session", err)
		return
	}

	a.setSessionCookie(c, sess)

	a.enqueue(service.NotifyTFACode, acc.Email, map[string]string{
		"username": acc.Username,
		"code":     code,
	})

	zap.L().Debug("TFA challenge issued", zap.String("userID", acc.ID), zap.String("requestID", requestID))

	c.JSON(http.StatusOK, gin.H{
		"status":    "challenge_issued",
		"requestID": requestID,
	})
}

func (a *API) Logout(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)

	if sess, ok := a.currentSession(c); ok {
		a.Sessions.Destroy(sess.ID)
	}

	a.clearSessionCookie(c)

	c.JSON(http.StatusOK, gin.H{
		"message":   "Logged out",
		"requestID": requestID,
	})
}
