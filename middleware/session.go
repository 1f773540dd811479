package middleware

import (
	"errors"
	"net/http"

	"apripista/inspira-api/internal/session"
	"apripista/inspira-api/internal/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SessionCookie is the cookie carrying the opaque session id.
const SessionCookie = "session_id"

// NewSessionMiddleware guards protected routes. It resolves the session
// cookie, re-checks the backing account on every request (sessions must die
// with the account and with password changes) and exposes the session and
// account on the context. Pass role "" for any authenticated user.
func NewSessionMiddleware(s *session.Store, accounts *store.Accounts, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.MustGet("requestID").(string)

		id, err := c.Cookie(SessionCookie)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":     "You need to log in first",
				"requestID": requestID,
			})
			return
		}

		sess, err := s.Get(id)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":     "You need to log in first",
				"requestID": requestID,
			})
			return
		}

		acc, err := accounts.ByID(sess.AccountID)
		if err != nil && !errors.Is(err, store.ErrAccountNotFound) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":     "Internal server error",
				"requestID": requestID,
			})

			zap.L().Error("Failed to load session account", zap.Error(err), zap.String("requestID", requestID))
			return
		}

		switch Authorize(sess, acc, role) {
		case Allowed:
		case Forbidden:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":     "Access denied. You do not have permission to do this",
				"requestID": requestID,
			})
			return
		default:
			s.Destroy(id)

			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":     "You need to log in first",
				"requestID": requestID,
			})
			return
		}

		c.Set("session", sess)
		c.Set("account", acc)
		c.Set("userID", acc.ID)
		c.Next()
	}
}
