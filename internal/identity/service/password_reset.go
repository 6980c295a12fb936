package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"medconnect/backend/internal/apperror"
	"medconnect/backend/internal/audit"
	auditdomain "medconnect/backend/internal/audit/domain"
	"medconnect/backend/internal/otp"
	"medconnect/backend/internal/policy/engine"
	"medconnect/backend/internal/security"
	sessiondomain "medconnect/backend/internal/session/domain"
	userdomain "medconnect/backend/internal/user/domain"
)

const (
	resetCodeLength = 6
	resetTokenBytes = 32
)

// DefaultResetTTL is how long a reset token and code stay usable.
const DefaultResetTTL = 30 * time.Minute

// ResetStore persists PASSWORD_RESET token records. Implemented by the session repository.
type ResetStore interface {
	GetByHash(ctx context.Context, tokenHash string) (*sessiondomain.TokenRecord, error)
	ReplaceReset(ctx context.Context, rec *sessiondomain.TokenRecord) error
	RevokeAll(ctx context.Context, userID string, kinds []sessiondomain.Kind, now time.Time) (int64, error)
	CompleteReset(ctx context.Context, resetID, userID, passwordHash string, now time.Time) (bool, error)
}

// SMSSender delivers a text message.
type SMSSender interface {
	Send(ctx context.Context, phone, message string) error
}

// EmailSender delivers a plain-text email.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// ResetLimiter bounds reset requests per identifier.
type ResetLimiter interface {
	Allow(ctx context.Context, id string) (time.Duration, error)
}

// ResetConfig holds password reset settings.
type ResetConfig struct {
	TTL time.Duration
	// URLBase is the page the emailed link opens; the token is appended as ?token=.
	URLBase string
}

// ResetRequested describes where a reset code was sent.
type ResetRequested struct {
	Method           userdomain.Channel
	Destination      string
	ExpiresInMinutes int
}

// ResetService implements forgot-password and reset-password.
type ResetService struct {
	users   UserRepo
	store   ResetStore
	policy  engine.Evaluator
	hasher  *security.Hasher
	sms     SMSSender
	mail    EmailSender
	limiter ResetLimiter
	audit   audit.AuditLogger
	cfg     ResetConfig
	log     zerolog.Logger
	now     func() time.Time
}

// NewResetService returns a ResetService. limiter and auditLogger may be nil.
func NewResetService(
	users UserRepo,
	store ResetStore,
	policy engine.Evaluator,
	hasher *security.Hasher,
	sms SMSSender,
	mail EmailSender,
	limiter ResetLimiter,
	auditLogger audit.AuditLogger,
	cfg ResetConfig,
	log zerolog.Logger,
) *ResetService {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultResetTTL
	}
	if policy == nil {
		policy = engine.RoleTableEvaluator{}
	}
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	return &ResetService{
		users:   users,
		store:   store,
		policy:  policy,
		hasher:  hasher,
		sms:     sms,
		mail:    mail,
		limiter: limiter,
		audit:   auditLogger,
		cfg:     cfg,
		log:     log.With().Str("component", "password_reset").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RequestReset issues a reset token and code for the account identified by an
// email or a phone number and delivers them on the matching channel. Any reset
// already in flight for the account is discarded.
func (s *ResetService) RequestReset(ctx context.Context, identifier string) (*ResetRequested, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, apperror.Field("email", "email or telephone is required")
	}
	channel := userdomain.ChannelSMS
	key := identifier
	if strings.Contains(identifier, "@") {
		channel = userdomain.ChannelEmail
		key = strings.ToLower(identifier)
	} else {
		phone, err := otp.NormalizePhone(identifier)
		if err != nil {
			return nil, apperror.New(apperror.KindInvalidPhone, "phone number must contain between 8 and 10 digits").
				WithDetail("field", "telephone")
		}
		key = phone
	}
	if err := s.allow(ctx, key); err != nil {
		return nil, err
	}

	var u *userdomain.User
	var err error
	if channel == userdomain.ChannelEmail {
		u, err = s.users.GetByEmail(ctx, key)
	} else {
		u, err = s.users.GetByPhone(ctx, key)
	}
	if err != nil {
		return nil, apperror.Internal(err)
	}
	if u == nil {
		return nil, apperror.New(apperror.KindNotFound, "no account matches this identifier").WithCode("USER_NOT_FOUND")
	}
	dec, doctor, err := evaluateLogin(ctx, s.policy, s.users, u, userdomain.LoginMethodPassword)
	if err != nil {
		return nil, err
	}
	if !dec.MethodAllowed {
		return nil, apperror.New(apperror.KindWrongUserType, "this account has no password; sign in with an SMS code").
			WithDetail("authMethod", u.Role.AuthMethodLabel())
	}
	if err := denialError(dec, u, doctor); err != nil {
		return nil, err
	}

	code, err := otp.GenerateCode(resetCodeLength)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	token, err := security.RandomHex(resetTokenBytes)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	payload, err := json.Marshal(sessiondomain.ResetPayload{Code: code, Channel: string(channel)})
	if err != nil {
		return nil, apperror.Internal(err)
	}
	now := s.now()
	rec := &sessiondomain.TokenRecord{
		ID:        uuid.New().String(),
		UserID:    u.ID,
		Kind:      sessiondomain.KindPasswordReset,
		TokenHash: security.HashToken(token),
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}
	if err := s.store.ReplaceReset(ctx, rec); err != nil {
		return nil, apperror.Internal(err)
	}

	minutes := int(s.cfg.TTL / time.Minute)
	var destination string
	if channel == userdomain.ChannelEmail {
		destination = maskEmail(u.Email)
		err = s.mail.Send(ctx, u.Email, resetEmailSubject, s.resetEmailBody(u, token, code, minutes))
	} else {
		destination = otp.MaskPhone(u.Phone)
		err = s.sms.Send(ctx, u.Phone, fmt.Sprintf(resetSMSFormat, code, token, minutes))
	}
	if err != nil {
		if _, rerr := s.store.RevokeAll(context.WithoutCancel(ctx), u.ID, []sessiondomain.Kind{sessiondomain.KindPasswordReset}, now); rerr != nil {
			s.log.Error().Err(rerr).Str("user_id", u.ID).Msg("revoke undelivered reset")
		}
		s.log.Error().Err(err).Str("user_id", u.ID).Str("channel", string(channel)).Msg("reset delivery failed")
		return nil, apperror.Wrap(apperror.KindDeliveryFailed, "could not send the reset code", err).WithCode("SEND_FAILED")
	}

	s.audit.LogEvent(ctx, u.ID, auditdomain.ActionPasswordForgot, auditdomain.ResourcePassword, map[string]any{"channel": string(channel)})
	return &ResetRequested{Method: channel, Destination: destination, ExpiresInMinutes: minutes}, nil
}

// CompleteReset sets a new password using a reset token and its code. On success
// every active session of the account is revoked.
func (s *ResetService) CompleteReset(ctx context.Context, token, code, newPassword string) error {
	token = strings.TrimSpace(token)
	code = strings.TrimSpace(code)
	if token == "" {
		return apperror.Field("token", "token is required")
	}
	if code == "" {
		return apperror.Field("code", "code is required")
	}
	if err := validatePassword("newPassword", newPassword); err != nil {
		return err
	}

	rec, err := s.store.GetByHash(ctx, security.HashToken(token))
	if err != nil {
		return apperror.Internal(err)
	}
	now := s.now()
	if rec == nil || rec.Kind != sessiondomain.KindPasswordReset || !rec.IsActive(now) {
		return errInvalidResetToken()
	}
	var p sessiondomain.ResetPayload
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		return apperror.Internal(err)
	}
	if p.Code == "" || subtle.ConstantTimeCompare([]byte(code), []byte(p.Code)) != 1 {
		return apperror.New(apperror.KindInvalidResetCode, "the reset code is incorrect")
	}
	u, err := s.users.GetByID(ctx, rec.UserID)
	if err != nil {
		return apperror.Internal(err)
	}
	if u == nil {
		return errInvalidResetToken()
	}
	if !u.IsActive() {
		return apperror.New(apperror.KindAccountInactive, "this account is not active").
			WithDetail("status", string(u.Status))
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apperror.Internal(err)
	}
	done, err := s.store.CompleteReset(ctx, rec.ID, u.ID, hash, now)
	if err != nil {
		return apperror.Internal(err)
	}
	if !done {
		return errInvalidResetToken()
	}
	s.log.Info().Str("user_id", u.ID).Msg("password reset; sessions revoked")
	s.audit.LogEvent(ctx, u.ID, auditdomain.ActionPasswordReset, auditdomain.ResourcePassword, nil)
	return nil
}

func (s *ResetService) allow(ctx context.Context, key string) error {
	if s.limiter == nil {
		return nil
	}
	wait, err := s.limiter.Allow(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Msg("reset limiter unavailable; allowing request")
		return nil
	}
	if wait > 0 {
		return apperror.RateLimited("too many reset requests; try again later", wait)
	}
	return nil
}

const (
	resetEmailSubject = "MedConnect - Réinitialisation de votre mot de passe"
	resetSMSFormat    = "MedConnect: votre code de réinitialisation est %s. Jeton: %s. Valable %d minutes."
)

func (s *ResetService) resetEmailBody(u *userdomain.User, token, code string, minutes int) string {
	link := s.cfg.URLBase + "?token=" + token
	return fmt.Sprintf("Bonjour %s,\n\n"+
		"Vous avez demandé la réinitialisation de votre mot de passe.\n"+
		"Ouvrez le lien suivant : %s\n"+
		"puis saisissez le code : %s\n\n"+
		"Ce lien expire dans %d minutes. Si vous n'êtes pas à l'origine de cette demande, ignorez ce message.\n",
		u.DisplayName(), link, code, minutes)
}

// maskEmail keeps the first character of the local part: "jane@x.ci" → "j***@x.ci".
func maskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

func errInvalidResetToken() *apperror.Error {
	return apperror.New(apperror.KindInvalidResetToken, "the reset link is invalid or has expired")
}
