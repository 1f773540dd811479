// Package session holds the server-side session state. Sessions are opaque:
// the client only ever sees the random id, everything else lives in a TTL
// cache on the server and disappears when the absolute lifetime runs out.
package session

import (
	"errors"
	"time"

	"apripista/inspira-api/pkg/clock"
	"apripista/inspira-api/pkg/security"

	"github.com/jellydator/ttlcache/v2"
)

var ErrNotFound = errors.New("session not found")

// Session is usable for protected actions only once TFAVerified is set (or
// the account has TFA disabled, in which case login sets it immediately).
type Session struct {
	ID        string
	AccountID string
	Username  string
	Email     string
	Remember  bool

	TFAPending  bool
	TFAVerified bool

	// Failed code submissions for the pending login challenge.
	TFAAttempts int

	// Account session generation at issue time. A mismatch against the
	// account row means the session was invalidated by a password change.
	Epoch int

	// Pending account-deletion challenge, only ever set on a verified
	// session of a TFA-enabled account.
	DeletionCode   string
	DeletionCodeAt time.Time
	DeletionReason string

	CreatedAt time.Time
}

type Store struct {
	cache       *ttlcache.Cache
	clock       clock.Clock
	ttl         time.Duration
	rememberTTL time.Duration
}

func NewStore(c clock.Clock, ttl, rememberTTL time.Duration) *Store {
	cache := ttlcache.NewCache()
	cache.SkipTTLExtensionOnHit(true)

	return &Store{
		cache:       cache,
		clock:       c,
		ttl:         ttl,
		rememberTTL: rememberTTL,
	}
}

// Create assigns the session a fresh random id and stores it for whatever is
// left of its absolute lifetime.
func (s *Store) Create(sess *Session) (string, error) {
	id, err := security.SessionID()
	if err != nil {
		return "", err
	}

	sess.ID = id

	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.clock.Now()
	}

	if err := s.set(sess); err != nil {
		return "", err
	}

	return id, nil
}

// Get returns an independent copy of the session. Concurrent requests with
// the same cookie must not share mutable state; changes only take effect
// through Save.
func (s *Store) Get(id string) (*Session, error) {
	v, err := s.cache.Get(id)
	if err != nil {
		return nil, ErrNotFound
	}

	stored, ok := v.(*Session)
	if !ok {
		return nil, ErrNotFound
	}

	if s.remaining(stored) <= 0 {
		s.cache.Remove(id)
		return nil, ErrNotFound
	}

	sess := *stored
	return &sess, nil
}

// Save writes the session back under its current id.
func (s *Store) Save(sess *Session) error {
	return s.set(sess)
}

// Rotate reissues the session under a new id and drops the old one. Run on
// privilege elevation so a fixated pre-login id is worthless afterwards. The
// lifetime keeps counting from the original creation.
func (s *Store) Rotate(sess *Session) (string, error) {
	old := sess.ID

	id, err := s.Create(sess)
	if err != nil {
		return "", err
	}

	s.cache.Remove(old)

	return id, nil
}

func (s *Store) Destroy(id string) {
	s.cache.Remove(id)
}

func (s *Store) Close() {
	s.cache.Close()
}

// TTLFor returns the absolute lifetime: the short default, or the extended
// one when the user asked to be remembered at login.
func (s *Store) TTLFor(sess *Session) time.Duration {
	if sess.Remember {
		return s.rememberTTL
	}

	return s.ttl
}

// remaining is what is left of the absolute lifetime, measured from
// CreatedAt. Writes never restart the clock.
func (s *Store) remaining(sess *Session) time.Duration {
	return s.TTLFor(sess) - s.clock.Now().Sub(sess.CreatedAt)
}

// set stores a copy under the remaining lifetime. A session past its
// lifetime is dropped instead of written, no matter how recently it was
// touched.
func (s *Store) set(sess *Session) error {
	rem := s.remaining(sess)
	if rem <= 0 {
		s.cache.Remove(sess.ID)
		return ErrNotFound
	}

	stored := *sess

	return s.cache.SetWithTTL(sess.ID, &stored, rem)
}
