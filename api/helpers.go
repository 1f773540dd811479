package api

import (
	"net/http"

	"apripista/inspira-api/internal/session"
	"apripista/inspira-api/middleware"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func internalError(c *gin.Context, requestID, logMsg string, err error) {
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":     "Internal server error",
		"requestID": requestID,
	})

	zap.L().Error(logMsg, zap.Error(err), zap.String("requestID", requestID))
}

func (a *API) setSessionCookie(c *gin.Context, sess *session.Session) {
	maxAge := int(a.Sessions.TTLFor(sess).Seconds())
	c.SetCookie(middleware.SessionCookie, sess.ID, maxAge, "/", "", viper.GetBool("host.ssl.enabled"), true)
}

func (a *API) clearSessionCookie(c *gin.Context) {
	c.SetCookie(middleware.SessionCookie, "", -1, "/", "", viper.GetBool("host.ssl.enabled"), true)
}

// currentSession resolves the session cookie without requiring one to exist.
func (a *API) currentSession(c *gin.Context) (*session.Session, bool) {
	id, err := c.Cookie(middleware.SessionCookie)
	if err != nil {
		return nil, false
	}

	sess, err := a.Sessions.Get(id)
	if err != nil {
		return nil, false
	}

	return sess, true
}

func (a *API) Heartbeat(c *gin.Context) {
	c.Status(http.StatusOK)
}
