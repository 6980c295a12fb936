// Package devotp keeps delivered OTP codes in memory when dev OTP mode is enabled,
// so they can be read back through GET /dev/otp instead of an SMS.
package devotp

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Store holds the latest plain OTP per phone for dev-only retrieval. Not used in production.
type Store interface {
	// Put stores code for phone until expiresAt, replacing any previous code.
	Put(ctx context.Context, phone, code string, expiresAt time.Time)
	// Get returns the code for phone if present and not expired.
	Get(ctx context.Context, phone string) (code string, expiresAt time.Time, ok bool)
}

type entry struct {
	code      string
	expiresAt time.Time
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryStore returns a new in-memory dev OTP store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]entry),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Put stores code for phone until expiresAt.
func (s *MemoryStore) Put(ctx context.Context, phone, code string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[phone] = entry{code: code, expiresAt: expiresAt}
}

// Get returns the code for phone if present and not expired. Expired entries are dropped.
func (s *MemoryStore) Get(ctx context.Context, phone string) (string, time.Time, bool) {
	s.mu.RLock()
	e, ok := s.m[phone]
	s.mu.RUnlock()
	if !ok {
		return "", time.Time{}, false
	}
	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		if cur, still := s.m[phone]; still && cur == e {
			delete(s.m, phone)
		}
		s.mu.Unlock()
		return "", time.Time{}, false
	}
	return e.code, e.expiresAt, true
}

// Sender stands in for the SMS gateway in dev mode: OTP codes go to the store
// and other messages to the log.
type Sender struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time
}

// NewSender returns a Sender writing codes to store.
func NewSender(store Store, log zerolog.Logger) *Sender {
	return &Sender{store: store, log: log.With().Str("component", "devotp").Logger(), now: func() time.Time { return time.Now().UTC() }}
}

// SendOTP records code for phone instead of sending it.
func (s *Sender) SendOTP(ctx context.Context, phone, code string, validFor time.Duration) error {
	s.store.Put(ctx, phone, code, s.now().Add(validFor))
	s.log.Warn().Str("phone", phone).Msg("dev otp mode: code stored, not sent")
	return nil
}

// Send logs message instead of sending it.
func (s *Sender) Send(ctx context.Context, phone, message string) error {
	s.log.Warn().Str("phone", phone).Str("message", message).Msg("dev otp mode: sms not sent")
	return nil
}

// Mailer stands in for SMTP in dev mode: messages go to the log.
type Mailer struct {
	log zerolog.Logger
}

// NewMailer returns a Mailer logging to log.
func NewMailer(log zerolog.Logger) *Mailer {
	return &Mailer{log: log.With().Str("component", "devotp").Logger()}
}

// Send logs the message instead of sending it.
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	m.log.Warn().Str("to", to).Str("subject", subject).Str("body", body).Msg("dev otp mode: email not sent")
	return nil
}
