package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"medconnect/backend/internal/apperror"
	"medconnect/backend/internal/server/envelope"
	"medconnect/backend/internal/server/middleware"
	"medconnect/backend/internal/user/domain"
	"medconnect/backend/internal/user/service"
)

// UserView is the public JSON form of a user.
type UserView struct {
	ID               string `json:"id"`
	LastName         string `json:"nom"`
	FirstName        string `json:"prenom"`
	Email            string `json:"email"`
	Phone            string `json:"telephone"`
	Role             string `json:"role"`
	Status           string `json:"status"`
	PreferredChannel string `json:"canalPrefere"`
	CreatedAt        string `json:"createdAt"`
}

// NewUserView renders u without credentials.
func NewUserView(u *domain.User) UserView {
	return UserView{
		ID:               u.ID,
		LastName:         u.LastName,
		FirstName:        u.FirstName,
		Email:            u.Email,
		Phone:            u.Phone,
		Role:             string(u.Role),
		Status:           string(u.Status),
		PreferredChannel: string(u.PreferredChannel),
		CreatedAt:        formatTime(u.CreatedAt),
	}
}

type patientView struct {
	BirthDate *string `json:"dateNaissance"`
	Sex       string  `json:"sexe,omitempty"`
	City      string  `json:"ville"`
	Age       *int    `json:"age"`
}

// DoctorView is the public JSON form of a doctor profile.
type DoctorView struct {
	LicenseNumber    string   `json:"numeroOrdre"`
	Specialties      []string `json:"specialites"`
	ValidationStatus string   `json:"statutValidation"`
	ValidatedAt      *string  `json:"dateValidation"`
	RejectionReason  string   `json:"motifRejet,omitempty"`
	Bio              string   `json:"bio,omitempty"`
	ExperienceYears  *int     `json:"experienceAnnees"`
}

// NewDoctorView renders d.
func NewDoctorView(d *domain.DoctorProfile) DoctorView {
	specs := d.Specialties
	if specs == nil {
		specs = []string{}
	}
	return DoctorView{
		LicenseNumber:    d.LicenseNumber,
		Specialties:      specs,
		ValidationStatus: string(d.ValidationStatus),
		ValidatedAt:      formatTimePtr(d.ValidatedAt),
		RejectionReason:  d.RejectionReason,
		Bio:              d.Bio,
		ExperienceYears:  d.ExperienceYears,
	}
}

type meView struct {
	User       UserView     `json:"user"`
	AuthMethod string       `json:"authMethod"`
	Patient    *patientView `json:"patient,omitempty"`
	Doctor     *DoctorView  `json:"medecin,omitempty"`
}

type validationStatusView struct {
	Status            string  `json:"statutValidation"`
	ValidatedAt       *string `json:"dateValidation"`
	RejectionReason   string  `json:"motifRejet,omitempty"`
	CanPractice       bool    `json:"canPractice"`
	HoursSinceRequest int     `json:"hoursSinceRequest"`
}

// Handler serves the caller's own account views.
type Handler struct {
	profiles *service.ProfileService
}

// NewHandler returns a Handler.
func NewHandler(profiles *service.ProfileService) *Handler {
	return &Handler{profiles: profiles}
}

// Me handles GET /auth/me.
func (h *Handler) Me(c *gin.Context) {
	id, ok := middleware.GetIdentity(c.Request.Context())
	if !ok {
		envelope.Fail(c, apperror.New(apperror.KindUnauthorized, "authentication required"))
		return
	}
	p, err := h.profiles.Me(c.Request.Context(), id.User)
	if err != nil {
		envelope.Fail(c, err)
		return
	}
	out := meView{User: NewUserView(p.User), AuthMethod: p.AuthMethod}
	if p.Patient != nil {
		out.Patient = &patientView{City: p.Patient.City, Sex: p.Patient.Sex, Age: p.Age}
		if p.Patient.BirthDate != nil {
			s := p.Patient.BirthDate.Format(time.DateOnly)
			out.Patient.BirthDate = &s
		}
	}
	if p.Doctor != nil {
		d := NewDoctorView(p.Doctor)
		out.Doctor = &d
	}
	envelope.OK(c, "", out)
}

// ValidationStatus handles GET /medecins/validation-status.
func (h *Handler) ValidationStatus(c *gin.Context) {
	id, ok := middleware.GetIdentity(c.Request.Context())
	if !ok {
		envelope.Fail(c, apperror.New(apperror.KindUnauthorized, "authentication required"))
		return
	}
	st, err := h.profiles.ValidationStatus(c.Request.Context(), id.User)
	if err != nil {
		envelope.Fail(c, err)
		return
	}
	envelope.OK(c, "", validationStatusView{
		Status:            string(st.Status),
		ValidatedAt:       formatTimePtr(st.ValidatedAt),
		RejectionReason:   st.RejectionReason,
		CanPractice:       st.CanPractice,
		HoursSinceRequest: st.HoursSinceRequest,
	})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
