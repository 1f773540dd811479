package api

import (
	"errors"
	"net/http"

	"apripista/inspira-api/internal/service"
	"apripista/inspira-api/internal/store"
	"apripista/inspira-api/model"
	"apripista/inspira-api/pkg/security"
	"apripista/inspira-api/validators"

	"github.com/gin-gonic/gin"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const accountIDCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

var errRegistrationConflict = errors.New("username or email already in use")

type registerBody struct {
	Email     string `json:"email" binding:"required"`
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
	Username  string `json:"username" binding:"required"`
	Password  string `json:"password" binding:"required"`
	Country   string `json:"country" binding:"required"`
}

func (a *API) Register(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)

	var data registerBody
	if err := c.ShouldBind(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid request body",
			"requestID": requestID,
		})

		zap.L().Debug("Can't bind request body", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	if err := validators.EmailValidator(data.Email); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     err.Error(),
			"requestID": requestID,
		})
		return
	}

	if err := validators.UsernameValidator(data.Username); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     err.Error(),
			"requestID": requestID,
		})
		return
	}

	for _, name := range []string{data.FirstName, data.LastName, data.Country} {
		if err := validators.NameValidator(name); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":     err.Error(),
				"requestID": requestID,
			})
			return
		}
	}

	// Every failed policy check is reported on its own so the client can
	// message them precisely.
	if failed := validators.PasswordPolicy(data.Password); len(failed) > 0 {
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

	hash, err := a.Argon.Hash(data.Password)
	if err != nil {
		internalError(c, requestID, "Failed to hash password", err)
		return
	}

	pin, err := security.IssueSecurityPin(a.Accounts)
	if err != nil {
		// Includes ErrPinSpaceExhausted, which must block registration
		// loudly rather than retry forever.
		internalError(c, requestID, "Failed to issue security pin", err)
		return
	}

	token, err := security.RegistrationToken()
	if err != nil {
		internalError(c, requestID, "Failed to generate verification token", err)
		return
	}

	accountID, err := gonanoid.Generate(accountIDCharset, 16)
	if err != nil {
		internalError(c, requestID, "Failed to generate account ID", err)
		return
	}

	// Duplicate check, account insert and token issuance share one
	// transaction: no window for a duplicate registration, no account
	// without a live verification token.
	err = a.DB.Transaction(func(tx *gorm.DB) error {
		taken, err := a.Accounts.EmailOrUsernameTaken(tx, data.Email, data.Username)
		if err != nil {
			return err
		}

		if taken {
			return errRegistrationConflict
		}

		err = a.Accounts.Create(tx, &model.Account{
			ID:           accountID,
			Username:     data.Username,
			Email:        data.Email,
			FirstName:    data.FirstName,
			LastName:     data.LastName,
			Country:      data.Country,
			PasswordHash: hash,
			SecurityPin:  pin,
			Role:         "user",
			RegisteredAt: a.Clock.Now(),
		})
		if err != nil {
			return err
		}

		return a.Tokens.IssueTx(tx, accountID, store.PurposeRegistration, token, data.Email, store.RegistrationTokenTTL)
	})
	if err != nil {
		if errors.Is(err, errRegistrationConflict) {
			c.JSON(http.StatusConflict, gin.H{
				"error":     "Username or email address already in use. Please choose another",
				"requestID": requestID,
			})
			return
		}

		internalError(c, requestID, "Failed to create account", err)
		return
	}

	a.enqueue(service.NotifyRegistrationVerify, data.Email, map[string]string{
		"username": data.Username,
		"token":    token,
	})
	a.enqueue(service.NotifySecurityPin, data.Email, map[string]string{
		"username": data.Username,
		"pin":      pin,
	})

	c.JSON(http.StatusOK, gin.H{
		"accountID": accountID,
		"message":   "Registration successful. Please check your email to verify your account",
	})
}

// enqueue hands a notification to the dispatcher. Delivery is the worker's
// problem, a queue hiccup must not fail the request that already committed.
func (a *API) enqueue(kind service.NotificationKind, recipient string, payload map[string]string) {
	if _, err := a.Dispatch.Enqueue(kind, recipient, payload); err != nil {
		zap.L().Error("Failed to enqueue notification",
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}
