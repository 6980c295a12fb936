package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"medconnect/backend/internal/apperror"
	"medconnect/backend/internal/audit"
	auditdomain "medconnect/backend/internal/audit/domain"
	"medconnect/backend/internal/otp"
	otpservice "medconnect/backend/internal/otp/service"
	"medconnect/backend/internal/policy/engine"
	"medconnect/backend/internal/security"
	sessionservice "medconnect/backend/internal/session/service"
	userdomain "medconnect/backend/internal/user/domain"
)

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	GetByPhone(ctx context.Context, phone string) (*userdomain.User, error)
	GetDoctorProfile(ctx context.Context, userID string) (*userdomain.DoctorProfile, error)
	CreatePatient(ctx context.Context, u *userdomain.User, p *userdomain.PatientProfile) error
	CreateDoctor(ctx context.Context, u *userdomain.User, d *userdomain.DoctorProfile) error
	LicenseExists(ctx context.Context, licenseNumber string) (bool, error)
}

// OTPVerifier checks phone ownership. Implemented by the OTP manager.
type OTPVerifier interface {
	VerifyChallenge(ctx context.Context, rawPhone, code string) (*otpservice.Verified, error)
	RequireVerified(ctx context.Context, phone string) error
}

// SessionIssuer mints and persists a token pair. Implemented by the session manager.
type SessionIssuer interface {
	IssueSession(ctx context.Context, u *userdomain.User) (*sessionservice.Tokens, error)
}

// Throttle counts failed logins per email. Implemented by the Redis limiter.
type Throttle interface {
	Blocked(ctx context.Context, id string) (time.Duration, error)
	Record(ctx context.Context, id string) error
	Reset(ctx context.Context, id string) error
}

// LoginResult is the outcome of a successful password login or patient registration.
type LoginResult struct {
	User   *userdomain.User
	Tokens *sessionservice.Tokens
}

// OTPResult is the outcome of a successful OTP verification. User and Tokens are
// set only when the phone belongs to a patient; UserType only for other roles.
type OTPResult struct {
	Phone     string
	IsNewUser bool
	UserType  userdomain.Role
	User      *userdomain.User
	Tokens    *sessionservice.Tokens
}

// AuthService implements password login, OTP login and account registration.
type AuthService struct {
	users    UserRepo
	otp      OTPVerifier
	sessions SessionIssuer
	policy   engine.Evaluator
	hasher   *security.Hasher
	throttle Throttle
	audit    audit.AuditLogger
	log      zerolog.Logger
	now      func() time.Time
}

// NewAuthService returns an AuthService. throttle and auditLogger may be nil.
func NewAuthService(
	users UserRepo,
	otpVerifier OTPVerifier,
	sessions SessionIssuer,
	policy engine.Evaluator,
	hasher *security.Hasher,
	throttle Throttle,
	auditLogger audit.AuditLogger,
	log zerolog.Logger,
) *AuthService {
	if policy == nil {
		policy = engine.RoleTableEvaluator{}
	}
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	return &AuthService{
		users:    users,
		otp:      otpVerifier,
		sessions: sessions,
		policy:   policy,
		hasher:   hasher,
		throttle: throttle,
		audit:    auditLogger,
		log:      log.With().Str("component", "auth").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Login authenticates a password role. The login method is checked before the
// password, account state after it, so a wrong password never reveals account state.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, apperror.Field("email", "email is required")
	}
	if password == "" {
		return nil, apperror.Field("password", "password is required")
	}
	if err := s.checkThrottle(ctx, email); err != nil {
		return nil, err
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	if u == nil {
		s.recordFailure(ctx, email)
		s.audit.LogEvent(ctx, "", auditdomain.ActionLoginFailure, auditdomain.ResourceAuth, map[string]any{"reason": "unknown_email"})
		return nil, errInvalidCredentials()
	}
	dec, doctor, err := s.evaluate(ctx, u, userdomain.LoginMethodPassword)
	if err != nil {
		return nil, err
	}
	if !dec.MethodAllowed {
		return nil, apperror.New(apperror.KindWrongAuthMethod, "this account signs in with an SMS code").
			WithDetail("authMethod", u.Role.AuthMethodLabel())
	}
	if u.PasswordHash == "" || !s.hasher.Verify(password, u.PasswordHash) {
		s.recordFailure(ctx, email)
		s.audit.LogEvent(ctx, u.ID, auditdomain.ActionLoginFailure, auditdomain.ResourceAuth, map[string]any{"reason": "bad_password"})
		return nil, errInvalidCredentials()
	}
	if err := denialError(dec, u, doctor); err != nil {
		return nil, err
	}

	if s.throttle != nil {
		if err := s.throttle.Reset(ctx, email); err != nil {
			s.log.Warn().Err(err).Msg("login throttle reset failed")
		}
	}
	tokens, err := s.sessions.IssueSession(ctx, u)
	if err != nil {
		return nil, err
	}
	s.audit.LogEvent(ctx, u.ID, auditdomain.ActionLoginSuccess, auditdomain.ResourceAuth, map[string]any{"method": "password", "role": string(u.Role)})
	return &LoginResult{User: u, Tokens: tokens}, nil
}

// VerifyOTP verifies a phone challenge. A patient's phone logs the patient in;
// an unknown phone may go on to register; other roles only learn the phone is verified.
func (s *AuthService) VerifyOTP(ctx context.Context, rawPhone, code string) (*OTPResult, error) {
	v, err := s.otp.VerifyChallenge(ctx, rawPhone, code)
	if err != nil {
		if k := apperror.KindOf(err); k == apperror.KindOTPInvalid || k == apperror.KindOTPExpired || k == apperror.KindOTPMaxAttempts {
			s.audit.LogEvent(ctx, "", auditdomain.ActionOTPFailure, auditdomain.ResourceOTP, map[string]any{"reason": string(k)})
		}
		return nil, err
	}
	u, err := s.users.GetByPhone(ctx, v.Phone)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	if u == nil {
		s.audit.LogEvent(ctx, "", auditdomain.ActionOTPVerified, auditdomain.ResourceOTP, map[string]any{"telephone": otp.MaskPhone(v.Phone), "newUser": true})
		return &OTPResult{Phone: v.Phone, IsNewUser: true}, nil
	}
	dec, doctor, err := s.evaluate(ctx, u, userdomain.LoginMethodOTP)
	if err != nil {
		return nil, err
	}
	if !dec.MethodAllowed {
		s.audit.LogEvent(ctx, u.ID, auditdomain.ActionOTPVerified, auditdomain.ResourceOTP, map[string]any{"role": string(u.Role)})
		return &OTPResult{Phone: v.Phone, UserType: u.Role}, nil
	}
	if err := denialError(dec, u, doctor); err != nil {
		return nil, err
	}
	tokens, err := s.sessions.IssueSession(ctx, u)
	if err != nil {
		return nil, err
	}
	s.audit.LogEvent(ctx, u.ID, auditdomain.ActionLoginSuccess, auditdomain.ResourceAuth, map[string]any{"method": "otp", "role": string(u.Role)})
	return &OTPResult{Phone: v.Phone, User: u, Tokens: tokens}, nil
}

// evaluate runs the login policy for u. The doctor profile is loaded for roles
// that require validation and returned for error details.
func (s *AuthService) evaluate(ctx context.Context, u *userdomain.User, method userdomain.LoginMethod) (engine.LoginDecision, *userdomain.DoctorProfile, error) {
	return evaluateLogin(ctx, s.policy, s.users, u, method)
}

type doctorProfileGetter interface {
	GetDoctorProfile(ctx context.Context, userID string) (*userdomain.DoctorProfile, error)
}

func evaluateLogin(ctx context.Context, policy engine.Evaluator, users doctorProfileGetter, u *userdomain.User, method userdomain.LoginMethod) (engine.LoginDecision, *userdomain.DoctorProfile, error) {
	in := engine.LoginInput{Role: u.Role, Method: method, Status: u.Status}
	var doctor *userdomain.DoctorProfile
	if u.Role.Policy().RequiresValidation {
		var err error
		if doctor, err = users.GetDoctorProfile(ctx, u.ID); err != nil {
			return engine.LoginDecision{}, nil, apperror.Internal(err)
		}
		if doctor != nil {
			in.ValidationStatus = doctor.ValidationStatus
		}
	}
	dec, err := policy.EvaluateLogin(ctx, in)
	if err != nil {
		return engine.LoginDecision{}, nil, apperror.Internal(err)
	}
	return dec, doctor, nil
}

// denialError converts a policy denial into the public error, or nil.
func denialError(dec engine.LoginDecision, u *userdomain.User, doctor *userdomain.DoctorProfile) error {
	switch dec.Denial {
	case engine.DenialNone:
		return nil
	case engine.DenialAccountInactive:
		return apperror.New(apperror.KindAccountInactive, "this account is not active").
			WithDetail("status", string(u.Status))
	case engine.DenialDoctorNotValidated:
		status := userdomain.ValidationPending
		if doctor != nil {
			status = doctor.ValidationStatus
		}
		e := apperror.New(apperror.KindDoctorNotValidated, "this account is awaiting administrative validation").
			WithDetail("validationStatus", string(status))
		if status == userdomain.ValidationRejected {
			e.Message = "this account was not approved"
			if doctor.RejectionReason != "" {
				e = e.WithDetail("rejectionReason", doctor.RejectionReason)
			}
		}
		return e
	default:
		return apperror.New(apperror.KindForbidden, "login denied by policy").WithDetail("reason", dec.Denial)
	}
}

func (s *AuthService) checkThrottle(ctx context.Context, email string) error {
	if s.throttle == nil {
		return nil
	}
	wait, err := s.throttle.Blocked(ctx, email)
	if err != nil {
		s.log.Warn().Err(err).Msg("login throttle unavailable; allowing attempt")
		return nil
	}
	if wait > 0 {
		return apperror.RateLimited("too many failed sign-in attempts; try again later", wait)
	}
	return nil
}

func (s *AuthService) recordFailure(ctx context.Context, email string) {
	if s.throttle == nil {
		return
	}
	if err := s.throttle.Record(ctx, email); err != nil {
		s.log.Warn().Err(err).Msg("login throttle record failed")
	}
}

func errInvalidCredentials() *apperror.Error {
	return apperror.New(apperror.KindInvalidCredentials, "invalid email or password")
}
