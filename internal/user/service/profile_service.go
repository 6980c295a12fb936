// Package service exposes account profiles and the doctor validation workflow.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"medconnect/backend/internal/apperror"
	"medconnect/backend/internal/audit"
	auditdomain "medconnect/backend/internal/audit/domain"
	"medconnect/backend/internal/user/domain"
)

// UserRepo is the minimal user repository needed by the profile service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetPatientProfile(ctx context.Context, userID string) (*domain.PatientProfile, error)
	GetDoctorProfile(ctx context.Context, userID string) (*domain.DoctorProfile, error)
	SetDoctorValidation(ctx context.Context, userID string, status domain.ValidationStatus, by, reason string, at time.Time) (bool, error)
}

// Profile is an account with its role extension.
type Profile struct {
	User       *domain.User
	AuthMethod string
	Patient    *domain.PatientProfile
	// Age is derived from the patient's birth date, nil when unknown.
	Age    *int
	Doctor *domain.DoctorProfile
}

// ValidationState is a doctor's view of their own approval.
type ValidationState struct {
	Status            domain.ValidationStatus
	ValidatedAt       *time.Time
	RejectionReason   string
	CanPractice       bool
	HoursSinceRequest int
}

// ProfileService reads profiles and records administrative validation decisions.
type ProfileService struct {
	users UserRepo
	audit audit.AuditLogger
	log   zerolog.Logger
	now   func() time.Time
}

// NewProfileService returns a ProfileService. auditLogger may be nil.
func NewProfileService(users UserRepo, auditLogger audit.AuditLogger, log zerolog.Logger) *ProfileService {
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	return &ProfileService{
		users: users,
		audit: auditLogger,
		log:   log.With().Str("component", "profile").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Me returns the authenticated user's profile.
func (s *ProfileService) Me(ctx context.Context, u *domain.User) (*Profile, error) {
	p := &Profile{User: u, AuthMethod: u.Role.AuthMethodLabel()}
	var err error
	switch u.Role {
	case domain.RolePatient:
		if p.Patient, err = s.users.GetPatientProfile(ctx, u.ID); err != nil {
			return nil, apperror.Internal(err)
		}
		p.Age = p.Patient.AgeAt(s.now())
	case domain.RoleDoctor:
		if p.Doctor, err = s.users.GetDoctorProfile(ctx, u.ID); err != nil {
			return nil, apperror.Internal(err)
		}
	}
	return p, nil
}

// ValidationStatus reports where a doctor's account stands in the approval workflow.
func (s *ProfileService) ValidationStatus(ctx context.Context, u *domain.User) (*ValidationState, error) {
	d, err := s.users.GetDoctorProfile(ctx, u.ID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	if d == nil {
		return nil, apperror.New(apperror.KindNotFound, "doctor profile not found")
	}
	return &ValidationState{
		Status:            d.ValidationStatus,
		ValidatedAt:       d.ValidatedAt,
		RejectionReason:   d.RejectionReason,
		CanPractice:       d.IsValidated(),
		HoursSinceRequest: int(s.now().Sub(u.CreatedAt).Hours()),
	}, nil
}

// SetDoctorValidation approves or rejects a doctor. A rejection must carry a reason.
func (s *ProfileService) SetDoctorValidation(ctx context.Context, admin *domain.User, doctorID string, status domain.ValidationStatus, reason string) (*domain.DoctorProfile, error) {
	doctorID = strings.TrimSpace(doctorID)
	reason = strings.TrimSpace(reason)
	switch status {
	case domain.ValidationApproved:
		reason = ""
	case domain.ValidationRejected:
		if reason == "" {
			return nil, apperror.Field("motifRejet", "a rejection reason is required")
		}
	default:
		return nil, apperror.Field("status", "status must be VALIDE or REJETE")
	}
	u, err := s.users.GetByID(ctx, doctorID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	if u == nil || u.Role != domain.RoleDoctor {
		return nil, apperror.New(apperror.KindNotFound, "doctor not found").WithCode("DOCTOR_NOT_FOUND")
	}
	ok, err := s.users.SetDoctorValidation(ctx, doctorID, status, admin.ID, reason, s.now())
	if err != nil {
		return nil, apperror.Internal(err)
	}
	if !ok {
		return nil, apperror.New(apperror.KindNotFound, "doctor profile not found").WithCode("DOCTOR_NOT_FOUND")
	}
	s.log.Info().Str("doctor_id", doctorID).Str("admin_id", admin.ID).Str("status", string(status)).Msg("doctor validation updated")
	s.audit.LogEvent(ctx, admin.ID, auditdomain.ActionDoctorValidation, auditdomain.ResourceDoctor,
		map[string]any{"doctorId": doctorID, "status": string(status)})

	d, err := s.users.GetDoctorProfile(ctx, doctorID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return d, nil
}
