package session

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/tnscm/tnscm/pkg/util"
)

// KeyLength is sized so that guessing a live key within its short lifetime
// is impractical.
const KeyLength = 40

const defaultLifetime = 60 * time.Second

type Config struct {
	LifetimeSeconds int `yaml:"lifetime_seconds"`
}

// Session hands a certificate to a secondary device: whoever presents the
// key within its lifetime may download the certificate, no client
// certificate required. Redemption does not consume the session; it simply
// times out.
type Session struct {
	Key       string
	CertID    int
	EndOfLife time.Time
}

type StoreOption func(s *Store)

// WithClock overrides the store's time source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// Store maps pickup keys to certificate identifiers. Expired sessions are
// removed lazily on access; at most one live session exists per certificate.
type Store struct {
	mu       sync.Mutex
	sessions map[string]Session
	lifetime time.Duration
	now      func() time.Time

	// limiter slows down redemption attempts so the keyspace cannot be
	// probed meaningfully within a session lifetime.
	limiter *rate.Limiter
}

func NewStore(cfg Config, opts ...StoreOption) *Store {
	lifetime := defaultLifetime
	if cfg.LifetimeSeconds > 0 {
		lifetime = time.Duration(cfg.LifetimeSeconds) * time.Second
	}

	s := &Store{
		sessions: make(map[string]Session),
		lifetime: lifetime,
		now:      time.Now,
		limiter:  rate.NewLimiter(rate.Limit(10), 20),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue returns the live session for certID, creating one if none exists.
// Repeated calls within the lifetime return the same key.
func (s *Store) Issue(certID int) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()

	for _, session := range s.sessions {
		if session.CertID == certID {
			return session, nil
		}
	}

	key, err := util.RandomString(KeyLength)
	if err != nil {
		return Session{}, err
	}
	session := Session{
		Key:       key,
		CertID:    certID,
		EndOfLife: s.now().Add(s.lifetime),
	}
	s.sessions[key] = session
	logrus.Debugf("issued pickup session for certificate %d", certID)
	return session, nil
}

// Redeem resolves a key to its certificate identifier. Unknown and expired
// keys are indistinguishable.
func (s *Store) Redeem(key string) (int, bool) {
	if !s.limiter.Allow() {
		logrus.Warn("session redemption rate exceeded")
		return 0, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()

	session, ok := s.sessions[key]
	if !ok {
		return 0, false
	}
	return session.CertID, true
}

// Remaining reports how long the session behind key stays redeemable,
// floored at zero.
func (s *Store) Remaining(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[key]
	if !ok {
		return 0
	}
	remaining := session.EndOfLife.Sub(s.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// sweep removes expired sessions. Callers hold s.mu.
func (s *Store) sweep() {
	now := s.now()
	for key, session := range s.sessions {
		if !session.EndOfLife.After(now) {
			delete(s.sessions, key)
		}
	}
}
