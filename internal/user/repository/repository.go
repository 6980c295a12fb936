package repository

import (
	"context"
	"time"

	"medconnect/backend/internal/user/domain"
)

// Repository defines persistence for users and their role profiles.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByPhone(ctx context.Context, phone string) (*domain.User, error)
	// CreatePatient inserts the user and patient profile in one transaction.
	// Returns db.ErrConflict if email or phone is taken.
	CreatePatient(ctx context.Context, u *domain.User, p *domain.PatientProfile) error
	// CreateDoctor inserts the user and doctor profile in one transaction.
	// Returns db.ErrConflict if email, phone or license number is taken.
	CreateDoctor(ctx context.Context, u *domain.User, d *domain.DoctorProfile) error
	// CreateAdmin inserts an ADMIN user. Returns db.ErrConflict if email or phone is taken.
	CreateAdmin(ctx context.Context, u *domain.User) error
	GetPatientProfile(ctx context.Context, userID string) (*domain.PatientProfile, error)
	GetDoctorProfile(ctx context.Context, userID string) (*domain.DoctorProfile, error)
	LicenseExists(ctx context.Context, licenseNumber string) (bool, error)
	// SetDoctorValidation records an administrative decision on a doctor account.
	// Returns false if userID has no doctor profile.
	SetDoctorValidation(ctx context.Context, userID string, status domain.ValidationStatus, by, reason string, at time.Time) (bool, error)
}
