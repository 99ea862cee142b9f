package rfid

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

const DefaultTimeout = 30 * time.Second

var ErrInvalidTimeout = errors.New("rfid timeout must be positive")

// Session remembers the most recent card authentication. It holds a single
// slot; a new tap replaces the previous one. Expiry is evaluated on read.
type Session struct {
	mu       sync.RWMutex
	identity string
	at       time.Time
	timeout  time.Duration
	now      func() time.Time
}

func NewSession(timeout time.Duration) *Session {
	return NewSessionWithClock(timeout, time.Now)
}

func NewSessionWithClock(timeout time.Duration, now func() time.Time) *Session {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Session{timeout: timeout, now: now}
}

func (s *Session) Authenticate(identity string) {
	s.mu.Lock()
	s.identity = identity
	s.at = s.now()
	s.mu.Unlock()

	slog.Info("rfid session authenticated", "identity", identity)
}

// Check reports whether identity holds a live authentication.
func (s *Session) Check(identity string) bool {
	if identity == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.identity == identity && s.now().Sub(s.at) < s.timeout
}

// Active returns the authenticated identity if the session has not expired.
func (s *Session) Active() (string, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.identity == "" || s.now().Sub(s.at) >= s.timeout {
		return "", time.Time{}, false
	}
	return s.identity, s.at, true
}

func (s *Session) Clear() {
	s.mu.Lock()
	s.identity, s.at = "", time.Time{}
	s.mu.Unlock()
}

func (s *Session) Timeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeout
}

func (s *Session) SetTimeout(d time.Duration) error {
	if d <= 0 {
		slog.Warn("rejected rfid timeout", "timeout", d)
		return ErrInvalidTimeout
	}
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
	return nil
}
