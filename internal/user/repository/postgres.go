package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"medconnect/backend/internal/db"
	"medconnect/backend/internal/user/domain"
)

type PostgresRepository struct {
	db    *sql.DB
	types *pgtype.Map
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn, types: pgtype.NewMap()}
}

const userColumns = `id, email, phone, first_name, last_name, role, status, password_hash, preferred_channel, created_at, updated_at`

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail returns the user with the given (lower-cased) email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// GetByPhone returns the user with the given normalized phone, or nil if not found.
func (r *PostgresRepository) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone)
}

func (r *PostgresRepository) getUser(ctx context.Context, query string, arg any) (*domain.User, error) {
	var u domain.User
	var role, status, channel string
	var hash sql.NullString
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.Phone, &u.FirstName, &u.LastName, &role, &status, &hash, &channel, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Role = domain.Role(role)
	u.Status = domain.UserStatus(status)
	u.PreferredChannel = domain.Channel(channel)
	u.PasswordHash = hash.String
	return &u, nil
}

func insertUser(ctx context.Context, tx *sql.Tx, u *domain.User) error {
	hash := sql.NullString{String: u.PasswordHash, Valid: u.PasswordHash != ""}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, u.Email, u.Phone, u.FirstName, u.LastName, string(u.Role), string(u.Status), hash,
		string(u.PreferredChannel), u.CreatedAt, u.UpdatedAt,
	)
	return db.MapConflict(err)
}

// CreatePatient persists the user and patient profile. The user must have ID set.
func (r *PostgresRepository) CreatePatient(ctx context.Context, u *domain.User, p *domain.PatientProfile) error {
	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := insertUser(ctx, tx, u); err != nil {
			return err
		}
		var birth sql.NullTime
		if p.BirthDate != nil {
			birth = sql.NullTime{Time: *p.BirthDate, Valid: true}
		}
		sex := sql.NullString{String: p.Sex, Valid: p.Sex != ""}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO patients (user_id, birth_date, sex, city) VALUES ($1, $2, $3, $4)`,
			u.ID, birth, sex, p.City,
		)
		return db.MapConflict(err)
	})
}

// CreateDoctor persists the user and doctor profile. The user must have ID set.
func (r *PostgresRepository) CreateDoctor(ctx context.Context, u *domain.User, d *domain.DoctorProfile) error {
	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := insertUser(ctx, tx, u); err != nil {
			return err
		}
		bio := sql.NullString{String: d.Bio, Valid: d.Bio != ""}
		var exp sql.NullInt64
		if d.ExperienceYears != nil {
			exp = sql.NullInt64{Int64: int64(*d.ExperienceYears), Valid: true}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO doctors (user_id, license_number, specialties, validation_status, bio, experience_years, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			u.ID, d.LicenseNumber, d.Specialties, string(d.ValidationStatus), bio, exp, u.CreatedAt,
		)
		return db.MapConflict(err)
	})
}

// CreateAdmin persists an ADMIN user.
func (r *PostgresRepository) CreateAdmin(ctx context.Context, u *domain.User) error {
	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		return insertUser(ctx, tx, u)
	})
}

// GetPatientProfile returns the patient profile for userID, or nil if not found.
func (r *PostgresRepository) GetPatientProfile(ctx context.Context, userID string) (*domain.PatientProfile, error) {
	p := domain.PatientProfile{UserID: userID}
	var birth sql.NullTime
	var sex sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT birth_date, sex, city FROM patients WHERE user_id = $1`, userID,
	).Scan(&birth, &sex, &p.City)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if birth.Valid {
		t := birth.Time
		p.BirthDate = &t
	}
	p.Sex = sex.String
	return &p, nil
}

// GetDoctorProfile returns the doctor profile for userID, or nil if not found.
func (r *PostgresRepository) GetDoctorProfile(ctx context.Context, userID string) (*domain.DoctorProfile, error) {
	d := domain.DoctorProfile{UserID: userID}
	var status string
	var validatedAt sql.NullTime
	var validatedBy, reason, bio sql.NullString
	var exp sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT license_number, specialties, validation_status, validated_at, validated_by, rejection_reason, bio, experience_years
		 FROM doctors WHERE user_id = $1`, userID,
	).Scan(&d.LicenseNumber, r.types.SQLScanner(&d.Specialties), &status, &validatedAt, &validatedBy, &reason, &bio, &exp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	d.ValidationStatus = domain.ValidationStatus(status)
	if validatedAt.Valid {
		t := validatedAt.Time
		d.ValidatedAt = &t
	}
	d.ValidatedBy = validatedBy.String
	d.RejectionReason = reason.String
	d.Bio = bio.String
	if exp.Valid {
		n := int(exp.Int64)
		d.ExperienceYears = &n
	}
	return &d, nil
}

// LicenseExists reports whether a doctor already holds licenseNumber.
func (r *PostgresRepository) LicenseExists(ctx context.Context, licenseNumber string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM doctors WHERE license_number = $1)`, licenseNumber,
	).Scan(&ok)
	return ok, err
}

// SetDoctorValidation updates validation status, decision time, deciding admin and rejection reason.
func (r *PostgresRepository) SetDoctorValidation(ctx context.Context, userID string, status domain.ValidationStatus, by, reason string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE doctors SET validation_status = $2, validated_at = $3, validated_by = $4, rejection_reason = $5
		 WHERE user_id = $1`,
		userID, string(status), at, by, sql.NullString{String: reason, Valid: reason != ""},
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
