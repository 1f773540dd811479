package middleware

import (
	"testing"

	"apripista/inspira-api/internal/session"
	"apripista/inspira-api/model"

	"github.com/stretchr/testify/assert"
)

func TestAuthorize(t *testing.T) {
	acc := &model.Account{ID: "a1", Role: "user", SessionEpoch: 3}
	sess := &session.Session{AccountID: "a1", TFAVerified: true, Epoch: 3}

	assert.Equal(t, Allowed, Authorize(sess, acc, ""))
	assert.Equal(t, Allowed, Authorize(sess, acc, "user"))
	assert.Equal(t, Forbidden, Authorize(sess, acc, "admin"))

	assert.Equal(t, NoSession, Authorize(nil, acc, ""))
	assert.Equal(t, NoSession, Authorize(sess, nil, ""))

	pending := &session.Session{AccountID: "a1", TFAPending: true, Epoch: 3}
	assert.Equal(t, NoSession, Authorize(pending, acc, ""))

	stale := &session.Session{AccountID: "a1", TFAVerified: true, Epoch: 2}
	assert.Equal(t, StaleSession, Authorize(stale, acc, ""))
}
