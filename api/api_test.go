package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"apripista/inspira-api/internal/service"
	"apripista/inspira-api/internal/session"
	"apripista/inspira-api/internal/store"
	"apripista/inspira-api/middleware"
	"apripista/inspira-api/model"
	"apripista/inspira-api/pkg/clock"
	"apripista/inspira-api/pkg/security"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testPassword = "Val1d!Pa$word"

// fakeDispatch records notifications instead of queueing them, so tests can
// pull tokens and codes out of what would have been mailed.
type fakeDispatch struct {
	mu   sync.Mutex
	sent []service.Notification
}

func (f *fakeDispatch) Enqueue(kind service.NotificationKind, recipient string, payload map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, service.Notification{
		Kind:      kind,
		Recipient: recipient,
		Payload:   payload,
	})

	return fmt.Sprintf("job-%d", len(f.sent)), nil
}

// last returns the most recent notification of the given kind, or nil.
func (f *fakeDispatch) last(kind service.NotificationKind) *service.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].Kind == kind {
			n := f.sent[i]
			return &n
		}
	}

	return nil
}

func (f *fakeDispatch) count(kind service.NotificationKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, s := range f.sent {
		if s.Kind == kind {
			n++
		}
	}

	return n
}

func newTestAPI(t *testing.T) (*API, *fakeDispatch, *clock.Fake) {
	t.Helper()

	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())

	dbConn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, dbConn.AutoMigrate(
		model.Account{},
		model.VerificationToken{},
		model.PasswordResetToken{},
		model.DeletedAccount{},
		model.ResendRequest{},
	))

	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	dispatch := &fakeDispatch{}

	a := &API{
		DB:               dbConn,
		Argon:            security.NewHasher(),
		Accounts:         store.NewAccounts(dbConn, clk),
		Tokens:           store.NewTokens(dbConn, clk),
		Sessions:         session.NewStore(clk, time.Hour, 24*time.Hour),
		Dispatch:         dispatch,
		Clock:            clk,
		TFAMaxAttempts:   5,
		ResendCooldown:   2 * time.Minute,
		ResendDailyLimit: 5,
	}

	t.Cleanup(a.Sessions.Close)

	a.setupRouter()

	return a, dispatch, clk
}

func do(t *testing.T, a *API, method, path string, body any, cookie string) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")

	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookie, Value: cookie})
	}

	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, req)

	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))

	return out
}

// sessionCookie extracts the session id a response set, "" when the
// response cleared it or set none.
func sessionCookie(w *httptest.ResponseRecorder) string {
	resp := http.Response{Header: w.Header()}

	for _, c := range resp.Cookies() {
		if c.Name == middleware.SessionCookie && c.MaxAge > 0 {
			return c.Value
		}
	}

	return ""
}

func registerAccount(t *testing.T, a *API, username, email string) string {
	t.Helper()

	w := do(t, a, http.MethodPost, "/api/auth/register", gin.H{
		"email":      email,
		"first_name": "Alice",
		"last_name":  "Smith",
		"username":   username,
		"password":   testPassword,
		"country":    "Kenya",
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	return decode(t, w)["accountID"].(string)
}

func verifyAccount(t *testing.T, a *API, d *fakeDispatch) {
	t.Helper()

	n := d.last(service.NotifyRegistrationVerify)
	require.NotNil(t, n)

	w := do(t, a, http.MethodGet, "/api/auth/verify/"+n.Payload["token"], nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func loginUser(t *testing.T, a *API, username, password string) string {
	t.Helper()

	w := do(t, a, http.MethodPost, "/api/auth/login", gin.H{
		"username": username,
		"password": password,
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	cookie := sessionCookie(w)
	require.NotEmpty(t, cookie)

	return cookie
}

func TestHeartbeat(t *testing.T) {
	a, _, _ := newTestAPI(t)

	w := do(t, a, http.MethodHead, "/api/heartbeat", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRegisterVerifyLogin(t *testing.T) {
	a, d, _ := newTestAPI(t)

	accountID := registerAccount(t, a, "alice", "alice@example.com")
	assert.Len(t, accountID, 16)

	// The verification link and the PIN go out in separate mails.
	require.NotNil(t, d.last(service.NotifyRegistrationVerify))
	pinMail := d.last(service.NotifySecurityPin)
	require.NotNil(t, pinMail)
	assert.Len(t, pinMail.Payload["pin"], 7)

	// Unverified accounts cannot log in.
	w := do(t, a, http.MethodPost, "/api/auth/login", gin.H{
		"username": "alice",
		"password": testPassword,
	}, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	verifyAccount(t, a, d)
	require.NotNil(t, d.last(service.NotifyWelcome))

	acc, err := a.Accounts.ByID(accountID)
	require.NoError(t, err)
	assert.True(t, acc.Verified)

	cookie := loginUser(t, a, "alice", testPassword)
	assert.NotEmpty(t, cookie)
}

func TestVerificationTokenSingleUse(t *testing.T) {
	a, d, _ := newTestAPI(t)

	registerAccount(t, a, "alice", "alice@example.com")

	n := d.last(service.NotifyRegistrationVerify)
	require.NotNil(t, n)

	w := do(t, a, http.MethodGet, "/api/auth/verify/"+n.Payload["token"], nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, a, http.MethodGet, "/api/auth/verify/"+n.Payload["token"], nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerificationTokenExpiry(t *testing.T) {
	a, d, clk := newTestAPI(t)

	registerAccount(t, a, "alice", "alice@example.com")

	clk.Advance(store.RegistrationTokenTTL + time.Second)

	n := d.last(service.NotifyRegistrationVerify)
	require.NotNil(t, n)

	w := do(t, a, http.MethodGet, "/api/auth/verify/"+n.Payload["token"], nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "Invalid or expired")
}

func TestRegisterDuplicate(t *testing.T) {
	a, _, _ := newTestAPI(t)

	registerAccount(t, a, "alice", "alice@example.com")

	w := do(t, a, http.MethodPost, "/api/auth/register", gin.H{
		"email":      "alice@example.com",
		"first_name": "Alice",
		"last_name":  "Smith",
		"username":   "alice_two",
		"password":   testPassword,
		"country":    "Kenya",
	}, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, a, http.MethodPost, "/api/auth/register", gin.H{
		"email":      "other@example.com",
		"first_name": "Alice",
		"last_name":  "Smith",
		"username":   "alice",
		"password":   testPassword,
		"country":    "Kenya",
	}, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	a, _, _ := newTestAPI(t)

	w := do(t, a, http.MethodPost, "/api/auth/register", gin.H{
		"email":      "alice@example.com",
		"first_name": "Alice",
		"last_name":  "Smith",
		"username":   "alice",
		"password":   "weak",
		"country":    "Kenya",
	}, "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	// Every violated rule is reported, not just the first.
	details := decode(t, w)["details"].([]any)
	assert.Greater(t, len(details), 1)
}

func TestLoginGenericCredentialFailure(t *testing.T) {
	a, d, _ := newTestAPI(t)

	registerAccount(t, a, "alice", "alice@example.com")
	verifyAccount(t, a, d)

	unknown := do(t, a, http.MethodPost, "/api/auth/login", gin.H{
		"username": "nobody",
		"password": testPassword,
	}, "")
	wrongPass := do(t, a, http.MethodPost, "/api/auth/login", gin.H{
		"username": "alice",
		"password": "Wr0ng!Pa$word",
	}, "")

	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, http.StatusUnauthorized, wrongPass.Code)

	// Same message either way, the endpoint must not confirm usernames.
	assert.Equal(t, decode(t, unknown)["error"], decode(t, wrongPass)["error"])
}

func TestLoginAlreadyAuthenticated(t *testing.T) {
	a, d, _ := newTestAPI(t)

	registerAccount(t, a, "alice", "alice@example.com")
	verifyAccount(t, a, d)
	cookie := loginUser(t, a, "alice", testPassword)

	w := do(t, a, http.MethodPost, "/api/auth/login", gin.H{
		"username": "alice",
		"password": testPassword,
	}, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "already_authenticated", decode(t, w)["status"])
}

func TestLogout(t *testing.T) {
	a, d, _ := newTestAPI(t)

	registerAccount(t, a, "alice", "alice@example.com")
	verifyAccount(t, a, d)
	cookie := loginUser(t, a, "alice", testPassword)

	w := do(t, a, http.MethodPost, "/api/auth/logout", nil, cookie)
	assert.Equal(t, http.StatusOK, w.Code)

	// The session is gone server-side, not just the cookie.
	w = do(t, a, http.MethodPost, "/api/account/tfa", gin.H{
		"email":  "alice@example.com",
		"enable": true,
	}, cookie)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProtectedRouteRequiresSession(t *testing.T) {
	a, _, _ := newTestAPI(t)

	w := do(t, a, http.MethodPost, "/api/account/password", gin.H{
		"current_password": testPassword,
		"new_password":     "An0ther!Pa$s",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, a, http.MethodPost, "/api/account/password", gin.H{
		"current_password": testPassword,
		"new_password":     "An0ther!Pa$s",
	}, "bogus-session-id")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
