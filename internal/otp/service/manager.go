// Package service implements OTP issuance and verification for phone ownership.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"medconnect/backend/internal/apperror"
	"medconnect/backend/internal/otp"
	"medconnect/backend/internal/otp/domain"
	"medconnect/backend/internal/otp/repository"
)

// Sender delivers an OTP to a phone. Implementations bound their own network time.
type Sender interface {
	SendOTP(ctx context.Context, phone, code string, validFor time.Duration) error
}

// Config holds OTP policy.
type Config struct {
	CodeLength     int
	MaxAttempts    int
	TTL            time.Duration
	Cooldown       time.Duration
	VerifiedWindow time.Duration
}

// DefaultConfig is 4 digits, 3 attempts, 5 minute TTL, 60 second cooldown and a 10 minute verified window.
func DefaultConfig() Config {
	return Config{
		CodeLength:     4,
		MaxAttempts:    3,
		TTL:            5 * time.Minute,
		Cooldown:       time.Minute,
		VerifiedWindow: 10 * time.Minute,
	}
}

// Issued describes a delivered challenge.
type Issued struct {
	Phone            string
	MaskedPhone      string
	ExpiresAt        time.Time
	ExpiresInMinutes int
	CodeLength       int
}

// Verified is the marker returned after a successful verification. Downstream
// registration must still call RequireVerified; the marker is not trusted on its own.
type Verified struct {
	Phone      string
	VerifiedAt time.Time
	ValidUntil time.Time
}

// Manager issues and verifies OTP challenges.
type Manager struct {
	repo   repository.Repository
	sender Sender
	cfg    Config
	log    zerolog.Logger
	now    func() time.Time
}

// NewManager returns a Manager. Zero fields in cfg fall back to DefaultConfig.
func NewManager(repo repository.Repository, sender Sender, cfg Config, log zerolog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = def.CodeLength
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.VerifiedWindow <= 0 {
		cfg.VerifiedWindow = def.VerifiedWindow
	}
	return &Manager{
		repo:   repo,
		sender: sender,
		cfg:    cfg,
		log:    log.With().Str("component", "otp").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RequestChallenge normalizes the phone, enforces the cooldown, supersedes any live
// challenge and delivers a fresh code. A challenge whose delivery failed is invalidated
// before returning DELIVERY_FAILED.
func (m *Manager) RequestChallenge(ctx context.Context, rawPhone string) (*Issued, error) {
	phone, err := otp.NormalizePhone(rawPhone)
	if err != nil {
		return nil, apperror.New(apperror.KindInvalidPhone, "phone number must contain between 8 and 10 digits").
			WithDetail("field", "telephone")
	}
	code, err := otp.GenerateCode(m.cfg.CodeLength)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	now := m.now()
	c := &domain.Challenge{
		ID:        uuid.New().String(),
		Phone:     phone,
		CodeHash:  otp.HashCode(code),
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.TTL),
	}
	retryAfter, err := m.repo.Issue(ctx, c, m.cfg.Cooldown)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	if retryAfter > 0 {
		return nil, apperror.RateLimited("a code was sent recently; wait before requesting another", retryAfter)
	}

	if err := m.sender.SendOTP(ctx, phone, code, m.cfg.TTL); err != nil {
		if invErr := m.repo.Invalidate(context.WithoutCancel(ctx), c.ID); invErr != nil {
			m.log.Error().Err(invErr).Str("challenge_id", c.ID).Msg("invalidate undelivered challenge")
		}
		m.log.Error().Err(err).Str("challenge_id", c.ID).Str("phone", otp.MaskPhone(phone)).Msg("otp delivery failed")
		return nil, apperror.Wrap(apperror.KindDeliveryFailed, "could not send the verification SMS", err).
			WithCode("SMS_SEND_FAILED")
	}

	return &Issued{
		Phone:            phone,
		MaskedPhone:      otp.MaskPhone(phone),
		ExpiresAt:        c.ExpiresAt,
		ExpiresInMinutes: int(m.cfg.TTL / time.Minute),
		CodeLength:       m.cfg.CodeLength,
	}, nil
}

// VerifyChallenge checks code against the phone's newest challenge. Wrong codes
// count against the challenge; reaching MaxAttempts invalidates it.
func (m *Manager) VerifyChallenge(ctx context.Context, rawPhone, code string) (*Verified, error) {
	phone, err := otp.NormalizePhone(rawPhone)
	if err != nil {
		return nil, apperror.New(apperror.KindInvalidPhone, "phone number must contain between 8 and 10 digits").
			WithDetail("field", "telephone")
	}
	if len(code) != m.cfg.CodeLength {
		return nil, apperror.Field("otp", "code must be exactly the issued length")
	}
	c, err := m.repo.Latest(ctx, phone)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	now := m.now()
	switch {
	case c == nil:
		return nil, errInvalidCode()
	case c.Consumed:
		if c.VerifiedAt == nil && c.Attempts >= m.cfg.MaxAttempts {
			return nil, errMaxAttempts()
		}
		return nil, errInvalidCode()
	case c.IsExpired(now):
		return nil, apperror.New(apperror.KindOTPExpired, "the verification code has expired; request a new one")
	}

	if !otp.CodeEqual(code, c.CodeHash) {
		attempts, consumed, ok, err := m.repo.RecordFailure(ctx, c.ID, m.cfg.MaxAttempts)
		if err != nil {
			return nil, apperror.Internal(err)
		}
		if !ok {
			return nil, errInvalidCode()
		}
		if consumed {
			return nil, errMaxAttempts()
		}
		return nil, errInvalidCode().WithDetail("remainingAttempts", m.cfg.MaxAttempts-attempts)
	}

	won, err := m.repo.MarkVerified(ctx, c.ID, now)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	if !won {
		return nil, errInvalidCode()
	}
	return &Verified{Phone: phone, VerifiedAt: now, ValidUntil: now.Add(m.cfg.VerifiedWindow)}, nil
}

// RequireVerified fails with PHONE_NOT_VERIFIED unless a challenge for phone was
// verified within the verified window. phone must already be normalized.
func (m *Manager) RequireVerified(ctx context.Context, phone string) error {
	ok, err := m.repo.VerifiedSince(ctx, phone, m.now().Add(-m.cfg.VerifiedWindow))
	if err != nil {
		return apperror.Internal(err)
	}
	if !ok {
		return apperror.New(apperror.KindPhoneNotVerified, "verify this phone number with an OTP before registering").
			WithDetail("field", "telephone")
	}
	return nil
}

func errInvalidCode() *apperror.Error {
	return apperror.New(apperror.KindOTPInvalid, "the verification code is incorrect")
}

func errMaxAttempts() *apperror.Error {
	return apperror.New(apperror.KindOTPMaxAttempts, "too many incorrect attempts; request a new code")
}
