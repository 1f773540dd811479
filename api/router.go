// Package api contains all endpoints available
package api

import (
	"fmt"
	"time"

	"apripista/inspira-api/db"
	"apripista/inspira-api/internal/service"
	"apripista/inspira-api/internal/session"
	"apripista/inspira-api/internal/store"
	"apripista/inspira-api/middleware"
	"apripista/inspira-api/pkg/clock"
	"apripista/inspira-api/pkg/security"

	ginzap "github.com/gin-contrib/zap"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

const (
	gray  = "\x1b[90m"
	reset = "\x1b[0m"
)

type API struct {
	DB       *gorm.DB
	Router   *gin.Engine
	Argon    *security.Hasher
	Accounts *store.Accounts
	Tokens   *store.Tokens
	Sessions *session.Store
	Dispatch service.Dispatcher
	Clock    clock.Clock

	TFAMaxAttempts   int
	ResendCooldown   time.Duration
	ResendDailyLimit int
}

func NewRouter() (*API, error) {
	dbConn, err := db.New()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database, %w", err)
	}

	clk := clock.System{}

	a := &API{
		DB:       dbConn,
		Argon:    security.NewHasher(),
		Accounts: store.NewAccounts(dbConn, clk),
		Tokens:   store.NewTokens(dbConn, clk),
		Sessions: session.NewStore(
			clk,
			time.Duration(viper.GetInt("session.ttl_minutes"))*time.Minute,
			time.Duration(viper.GetInt("session.remember_ttl_hours"))*time.Hour,
		),
		Dispatch:         service.NewDispatcher(viper.GetString("redis.addr"), service.DefaultRetryPolicy()),
		Clock:            clk,
		TFAMaxAttempts:   viper.GetInt("security.tfa_max_attempts"),
		ResendCooldown:   time.Duration(viper.GetInt("security.resend_cooldown_minutes")) * time.Minute,
		ResendDailyLimit: viper.GetInt("security.resend_daily_limit"),
	}

	makeLogger()
	a.setupRouter()

	return a, nil
}

func (a *API) setupRouter() {
	router := gin.New()
	a.Router = router

	router.Use(
		cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:5173"},
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
		gin.Recovery(),
		middleware.NewRequestIDMiddleware(),
		ginzap.GinzapWithConfig(zap.L(), &ginzap.Config{
			TimeFormat: "15:04:05.000",
			UTC:        true,
			Skipper: func(c *gin.Context) bool {
				return c.Request.Method == "HEAD"
			},
			Context: func(c *gin.Context) []zapcore.Field {
				fields := []zapcore.Field{}

				if v := c.GetString("requestID"); v != "" {
					fields = append(fields, zap.String("request_id", v))
				}

				if v := c.GetString("userID"); v != "" {
					fields = append(fields, zap.String("userID", v))
				}

				return fields
			},
		}),
	)

	router.HandleMethodNotAllowed = true
	router.RedirectFixedPath = true

	sessionGuard := middleware.NewSessionMiddleware(a.Sessions, a.Accounts, "")

	main := router.Group("/api", middleware.BodySizeLimiter(1<<20))
	{
		// HEAD /api/heartbeat		-> Used to check if the server is alive
		main.HEAD("/heartbeat", a.Heartbeat)
	}

	auth := main.Group("/auth")
	{
		// POST /api/auth/register		-> Registers a new account
		auth.POST("/register", a.Register)

		// GET /api/auth/verify/:token		-> Consumes a registration verification token
		auth.GET("/verify/:token", a.VerifyRegistration)

		// POST /api/auth/resend		-> Re-issues the verification mail
		auth.POST("/resend", a.ResendVerification)

		// POST /api/auth/login			-> First authentication factor
		auth.POST("/login", a.Login)

		// POST /api/auth/tfa			-> Second authentication factor
		auth.POST("/tfa", a.VerifyTFA)

		// POST /api/auth/logout		-> Clears the session
		auth.POST("/logout", a.Logout)

		// POST /api/auth/reset			-> Requests a password reset mail
		auth.POST("/reset", a.RequestPasswordReset)

		// POST /api/auth/reset/:token		-> Completes a password reset
		auth.POST("/reset/:token", a.CompletePasswordReset)

		// GET /api/auth/verify_email/:token	-> Consumes an email-change token
		auth.GET("/verify_email/:token", a.VerifyNewEmail)
	}

	account := main.Group("/account", sessionGuard)
	{
		// POST /api/account/password		-> Changes the password of a logged in user
		account.POST("/password", a.ChangePassword)

		// POST /api/account/email		-> Starts the two-phase email change
		account.POST("/email", a.ChangeEmail)

		// POST /api/account/tfa		-> Toggles two-factor authentication
		account.POST("/tfa", a.ToggleTFA)

		// POST /api/account/delete		-> Four-factor account deletion
		account.POST("/delete", a.DeleteAccount)

		// POST /api/account/delete/confirm	-> Confirms deletion with the mailed code
		account.POST("/delete/confirm", a.ConfirmDeletion)
	}
}

func makeLogger() {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.EncodeTime = func(t time.Time, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString(gray + t.Format("15:04:05.000") + reset)
	}
	cfg.EncoderConfig.EncodeCaller = func(ec zapcore.EntryCaller, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString(gray + ec.TrimmedPath() + reset)
	}

	cfg.DisableStacktrace = true

	log, _ := cfg.Build()
	zap.ReplaceGlobals(log)
}
