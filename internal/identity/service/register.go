package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"medconnect/backend/internal/apperror"
	auditdomain "medconnect/backend/internal/audit/domain"
	"medconnect/backend/internal/db"
	"medconnect/backend/internal/otp"
	userdomain "medconnect/backend/internal/user/domain"
)

var (
	emailPattern   = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	licensePattern = regexp.MustCompile(`^[A-Z0-9]{5,50}$`)
)

const (
	minPasswordLen = 8
	maxPasswordLen = 100
	maxBioLen      = 1000
	maxExperience  = 60
)

// PatientRegistration is the input to RegisterPatient.
type PatientRegistration struct {
	FirstName string
	LastName  string
	Phone     string
	Email     string
	BirthDate *time.Time
	Sex       string
}

// DoctorRegistration is the input to RegisterDoctor.
type DoctorRegistration struct {
	FirstName       string
	LastName        string
	Phone           string
	Email           string
	Password        string
	LicenseNumber   string
	Specialties     []string
	Bio             string
	ExperienceYears *int
}

// RegisterPatient creates a patient whose phone was just verified and logs them in.
func (s *AuthService) RegisterPatient(ctx context.Context, in PatientRegistration) (*LoginResult, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Sex = strings.ToUpper(strings.TrimSpace(in.Sex))
	if err := validateIdentity(in.FirstName, in.LastName, in.Email); err != nil {
		return nil, err
	}
	switch in.Sex {
	case "", userdomain.SexMale, userdomain.SexFemale, userdomain.SexOther:
	default:
		return nil, apperror.Field("sexe", "sex must be M, F or AUTRE")
	}
	phone, err := s.verifiedPhone(ctx, in.Phone)
	if err != nil {
		return nil, err
	}
	if err := s.ensureUnique(ctx, in.Email, phone); err != nil {
		return nil, err
	}
	now := s.now()
	if in.BirthDate != nil && !userdomain.ValidBirthDate(*in.BirthDate, now) {
		return nil, apperror.Field("dateNaissance", "birth date must give an age between 0 and 120").
			WithCode("INVALID_BIRTH_DATE")
	}

	u := &userdomain.User{
		ID:               uuid.New().String(),
		Email:            in.Email,
		Phone:            phone,
		FirstName:        strings.TrimSpace(in.FirstName),
		LastName:         strings.TrimSpace(in.LastName),
		Role:             userdomain.RolePatient,
		Status:           userdomain.UserStatusActive,
		PreferredChannel: userdomain.ChannelSMS,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := u.Validate(); err != nil {
		return nil, apperror.Internal(err)
	}
	p := &userdomain.PatientProfile{UserID: u.ID, BirthDate: in.BirthDate, Sex: in.Sex, City: userdomain.DefaultPatientCity}
	if err := s.users.CreatePatient(ctx, u, p); err != nil {
		return nil, createError(err)
	}
	s.log.Info().Str("user_id", u.ID).Msg("patient registered")
	s.audit.LogEvent(ctx, u.ID, auditdomain.ActionRegister, auditdomain.ResourceAuth, map[string]any{"role": string(u.Role)})

	tokens, err := s.sessions.IssueSession(ctx, u)
	if err != nil {
		return nil, err
	}
	return &LoginResult{User: u, Tokens: tokens}, nil
}

// RegisterDoctor creates a doctor account pending administrative validation.
// No tokens are issued: the account cannot sign in until it is approved.
func (s *AuthService) RegisterDoctor(ctx context.Context, in DoctorRegistration) (*userdomain.User, *userdomain.DoctorProfile, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.LicenseNumber = strings.TrimSpace(in.LicenseNumber)
	if err := validateIdentity(in.FirstName, in.LastName, in.Email); err != nil {
		return nil, nil, err
	}
	if err := validatePassword("password", in.Password); err != nil {
		return nil, nil, err
	}
	if !licensePattern.MatchString(in.LicenseNumber) {
		return nil, nil, apperror.Field("numeroOrdre", "license number must be 5 to 50 uppercase letters or digits")
	}
	if len(in.Specialties) == 0 {
		return nil, nil, apperror.Field("specialites", "at least one specialty is required")
	}
	if unknown := userdomain.UnknownSpecialties(in.Specialties); len(unknown) > 0 {
		return nil, nil, apperror.Field("specialites", "unknown specialty").WithDetail("invalid", unknown)
	}
	if utf8.RuneCountInString(in.Bio) > maxBioLen {
		return nil, nil, apperror.Field("bio", "bio must be at most 1000 characters")
	}
	if in.ExperienceYears != nil && (*in.ExperienceYears < 0 || *in.ExperienceYears > maxExperience) {
		return nil, nil, apperror.Field("experienceAnnees", "experience must be between 0 and 60 years")
	}
	phone, err := s.verifiedPhone(ctx, in.Phone)
	if err != nil {
		return nil, nil, err
	}
	if err := s.ensureUnique(ctx, in.Email, phone); err != nil {
		return nil, nil, err
	}
	taken, err := s.users.LicenseExists(ctx, in.LicenseNumber)
	if err != nil {
		return nil, nil, apperror.Internal(err)
	}
	if taken {
		return nil, nil, apperror.New(apperror.KindAlreadyExists, "this license number is already registered").
			WithCode("LICENSE_ALREADY_EXISTS").WithDetail("field", "numeroOrdre")
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, nil, apperror.Internal(err)
	}
	now := s.now()
	u := &userdomain.User{
		ID:               uuid.New().String(),
		Email:            in.Email,
		Phone:            phone,
		FirstName:        strings.TrimSpace(in.FirstName),
		LastName:         strings.TrimSpace(in.LastName),
		Role:             userdomain.RoleDoctor,
		Status:           userdomain.UserStatusActive,
		PasswordHash:     hash,
		PreferredChannel: userdomain.ChannelEmail,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := u.Validate(); err != nil {
		return nil, nil, apperror.Internal(err)
	}
	d := &userdomain.DoctorProfile{
		UserID:           u.ID,
		LicenseNumber:    in.LicenseNumber,
		Specialties:      in.Specialties,
		ValidationStatus: userdomain.ValidationPending,
		Bio:              strings.TrimSpace(in.Bio),
		ExperienceYears:  in.ExperienceYears,
	}
	if err := s.users.CreateDoctor(ctx, u, d); err != nil {
		return nil, nil, createError(err)
	}
	s.log.Info().Str("user_id", u.ID).Msg("doctor registered, pending validation")
	s.audit.LogEvent(ctx, u.ID, auditdomain.ActionRegister, auditdomain.ResourceAuth, map[string]any{"role": string(u.Role)})
	return u, d, nil
}

// verifiedPhone normalizes raw and requires a recent OTP verification for it.
func (s *AuthService) verifiedPhone(ctx context.Context, raw string) (string, error) {
	phone, err := otp.NormalizePhone(raw)
	if err != nil {
		return "", apperror.New(apperror.KindInvalidPhone, "phone number must contain between 8 and 10 digits").
			WithDetail("field", "telephone")
	}
	if err := s.otp.RequireVerified(ctx, phone); err != nil {
		return "", err
	}
	return phone, nil
}

func (s *AuthService) ensureUnique(ctx context.Context, email, phone string) error {
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return apperror.Internal(err)
	}
	if existing != nil {
		return apperror.New(apperror.KindAlreadyExists, "an account already uses this email").
			WithCode("EMAIL_ALREADY_EXISTS").WithDetail("field", "email")
	}
	existing, err = s.users.GetByPhone(ctx, phone)
	if err != nil {
		return apperror.Internal(err)
	}
	if existing != nil {
		return apperror.New(apperror.KindAlreadyExists, "an account already uses this phone number").
			WithCode("PHONE_ALREADY_EXISTS").WithDetail("field", "telephone")
	}
	return nil
}

// createError maps a lost uniqueness race to ALREADY_EXISTS.
func createError(err error) error {
	if errors.Is(err, db.ErrConflict) {
		return apperror.New(apperror.KindAlreadyExists, "an account with these details already exists")
	}
	return apperror.Internal(err)
}

func validateIdentity(firstName, lastName, email string) error {
	if err := validateName("prenom", firstName); err != nil {
		return err
	}
	if err := validateName("nom", lastName); err != nil {
		return err
	}
	if email == "" {
		return apperror.Field("email", "email is required")
	}
	if !emailPattern.MatchString(email) {
		return apperror.Field("email", "invalid email format")
	}
	return nil
}

func validateName(field, v string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(v))
	if n < 2 || n > 100 {
		return apperror.Field(field, field+" must be between 2 and 100 characters")
	}
	return nil
}

func validatePassword(field, password string) error {
	n := utf8.RuneCountInString(password)
	if n < minPasswordLen || n > maxPasswordLen {
		return apperror.Field(field, "password must be between 8 and 100 characters")
	}
	return nil
}
