package middleware

import (
	"apripista/inspira-api/internal/session"
	"apripista/inspira-api/model"
)

// Decision is the typed outcome of an authorization check. The transport
// layer maps it to a response, the check itself never writes one.
type Decision int

const (
	// Allowed lets the request through.
	Allowed Decision = iota
	// NoSession means there is no usable session for protected actions:
	// missing, expired or not yet second-factor verified.
	NoSession
	// StaleSession means the session predates a credential change and
	// must be discarded.
	StaleSession
	// Forbidden means the session is fine but the account lacks the
	// required role.
	Forbidden
)

// Authorize decides whether a session may act on behalf of the account. A
// role of "" means any authenticated account.
func Authorize(sess *session.Session, acc *model.Account, role string) Decision {
	if sess == nil || acc == nil || !sess.TFAVerified {
		return NoSession
	}

	if sess.Epoch != acc.SessionEpoch {
		return StaleSession
	}

	if role != "" && acc.Role != role {
		return Forbidden
	}

	return Allowed
}
