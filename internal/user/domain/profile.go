package domain

import (
	"math"
	"time"
)

// ValidationStatus is the administrative approval state of a doctor account.
type ValidationStatus string

const (
	ValidationPending  ValidationStatus = "EN_ATTENTE"
	ValidationApproved ValidationStatus = "VALIDE"
	ValidationRejected ValidationStatus = "REJETE"
)

// Sex values accepted on patient registration.
const (
	SexMale   = "M"
	SexFemale = "F"
	SexOther  = "AUTRE"
)

// DefaultPatientCity is assigned to new patient profiles.
const DefaultPatientCity = "Abidjan"

// PatientProfile is the patient extension of a User.
type PatientProfile struct {
	UserID    string
	BirthDate *time.Time
	Sex       string
	City      string
}

// AgeAt returns the age in whole years at now, or nil when the birth date is unknown.
func (p *PatientProfile) AgeAt(now time.Time) *int {
	if p == nil || p.BirthDate == nil {
		return nil
	}
	age := ageYears(*p.BirthDate, now)
	return &age
}

func ageYears(birth, now time.Time) int {
	return int(math.Floor(now.Sub(birth).Hours() / (365.25 * 24)))
}

// ValidBirthDate reports whether birth gives an age between 0 and 120 at now.
func ValidBirthDate(birth, now time.Time) bool {
	age := ageYears(birth, now)
	return age >= 0 && age <= 120 && !birth.After(now)
}

// DoctorProfile is the doctor extension of a User.
type DoctorProfile struct {
	UserID           string
	LicenseNumber    string
	Specialties      []string
	ValidationStatus ValidationStatus
	ValidatedAt      *time.Time
	ValidatedBy      string
	RejectionReason  string
	Bio              string
	ExperienceYears  *int
}

// IsValidated reports whether the doctor may practise and authenticate.
func (d *DoctorProfile) IsValidated() bool {
	return d != nil && d.ValidationStatus == ValidationApproved
}

// Specialties is the fixed list accepted on doctor registration.
var Specialties = []string{
	"MEDECINE_GENERALE",
	"CARDIOLOGIE",
	"DERMATOLOGIE",
	"PEDIATRIE",
	"GYNECOLOGIE",
	"NEUROLOGIE",
	"PSYCHIATRIE",
	"CHIRURGIE_GENERALE",
	"OPHTALMOLOGIE",
	"ORL",
	"RADIOLOGIE",
	"ANESTHESIE",
	"URGENCES",
	"MEDECINE_INTERNE",
	"ENDOCRINOLOGIE",
	"RHUMATOLOGIE",
	"GASTROENTEROLOGIE",
	"PNEUMOLOGIE",
	"NEPHROLOGIE",
	"ONCOLOGIE",
}

// UnknownSpecialties returns the entries of specs that are not in Specialties.
func UnknownSpecialties(specs []string) []string {
	known := make(map[string]bool, len(Specialties))
	for _, s := range Specialties {
		known[s] = true
	}
	var out []string
	for _, s := range specs {
		if !known[s] {
			out = append(out, s)
		}
	}
	return out
}
