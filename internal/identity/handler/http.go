// Package handler serves the public authentication endpoints: OTP, registration,
// password login and password reset.
package handler

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"medconnect/backend/internal/apperror"
	"medconnect/backend/internal/audit"
	auditdomain "medconnect/backend/internal/audit/domain"
	"medconnect/backend/internal/identity/service"
	otpservice "medconnect/backend/internal/otp/service"
	"medconnect/backend/internal/server/envelope"
	sessionhandler "medconnect/backend/internal/session/handler"
	userdomain "medconnect/backend/internal/user/domain"
	userhandler "medconnect/backend/internal/user/handler"
)

// Challenger issues OTP challenges. Implemented by the OTP manager.
type Challenger interface {
	RequestChallenge(ctx context.Context, rawPhone string) (*otpservice.Issued, error)
}

// Authenticator is the login and registration surface. Implemented by service.AuthService.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*service.LoginResult, error)
	VerifyOTP(ctx context.Context, rawPhone, code string) (*service.OTPResult, error)
	RegisterPatient(ctx context.Context, in service.PatientRegistration) (*service.LoginResult, error)
	RegisterDoctor(ctx context.Context, in service.DoctorRegistration) (*userdomain.User, *userdomain.DoctorProfile, error)
}

// Resetter is the forgot/reset password surface. Implemented by service.ResetService.
type Resetter interface {
	RequestReset(ctx context.Context, identifier string) (*service.ResetRequested, error)
	CompleteReset(ctx context.Context, token, code, newPassword string) error
}

type otpSendRequest struct {
	Phone string `json:"telephone"`
}

type otpVerifyRequest struct {
	Phone string `json:"telephone"`
	Code  string `json:"otp"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type patientRequest struct {
	LastName  string `json:"nom"`
	FirstName string `json:"prenom"`
	Phone     string `json:"telephone"`
	Email     string `json:"email"`
	BirthDate string `json:"dateNaissance"`
	Sex       string `json:"sexe"`
}

type doctorRequest struct {
	LastName        string   `json:"nom"`
	FirstName       string   `json:"prenom"`
	Phone           string   `json:"telephone"`
	Email           string   `json:"email"`
	Password        string   `json:"password"`
	LicenseNumber   string   `json:"numeroOrdre"`
	Specialties     []string `json:"specialites"`
	Bio             string   `json:"bio"`
	ExperienceYears *int     `json:"experienceAnnees"`
}

type forgotRequest struct {
	Email string `json:"email"`
	Phone string `json:"telephone"`
}

type resetRequest struct {
	Token       string `json:"token"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

type authView struct {
	User   userhandler.UserView      `json:"user"`
	Tokens sessionhandler.TokensView `json:"tokens"`
}

// Handler serves the public auth routes.
type Handler struct {
	otp         Challenger
	auth        Authenticator
	reset       Resetter
	auditLogger audit.AuditLogger
}

// NewHandler returns a Handler. auditLogger may be nil.
func NewHandler(otp Challenger, auth Authenticator, reset Resetter, auditLogger audit.AuditLogger) *Handler {
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	return &Handler{otp: otp, auth: auth, reset: reset, auditLogger: auditLogger}
}

// SendOTP handles POST /auth/otp/send.
func (h *Handler) SendOTP(c *gin.Context) {
	var req otpSendRequest
	if !bind(c, &req) {
		return
	}
	if strings.TrimSpace(req.Phone) == "" {
		envelope.Fail(c, apperror.Field("telephone", "telephone is required"))
		return
	}
	ctx := c.Request.Context()
	issued, err := h.otp.RequestChallenge(ctx, req.Phone)
	if err != nil {
		envelope.Fail(c, err)
		return
	}
	h.auditLogger.LogEvent(ctx, "", auditdomain.ActionOTPSent, auditdomain.ResourceOTP, map[string]any{"telephone": issued.MaskedPhone})
	envelope.OK(c, "verification code sent", gin.H{
		"telephone":        issued.MaskedPhone,
		"expiresInMinutes": issued.ExpiresInMinutes,
		"codeLength":       issued.CodeLength,
	})
}

// VerifyOTP handles POST /auth/otp/verify. A patient's phone returns tokens;
// any other phone returns a verification confirmation only.
func (h *Handler) VerifyOTP(c *gin.Context) {
	var req otpVerifyRequest
	if !bind(c, &req) {
		return
	}
	if strings.TrimSpace(req.Phone) == "" {
		envelope.Fail(c, apperror.Field("telephone", "telephone is required"))
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		envelope.Fail(c, apperror.Field("otp", "otp is required"))
		return
	}
	res, err := h.auth.VerifyOTP(c.Request.Context(), req.Phone, strings.TrimSpace(req.Code))
	if err != nil {
		envelope.Fail(c, err)
		return
	}
	if res.Tokens != nil {
		envelope.OK(c, "login successful", gin.H{
			"user":      userhandler.NewUserView(res.User),
			"tokens":    sessionhandler.NewTokensView(res.Tokens),
			"isNewUser": false,
		})
		return
	}
	data := gin.H{"verified": true, "telephone": res.Phone, "isNewUser": res.IsNewUser}
	if res.UserType != "" {
		data["userType"] = string(res.UserType)
	}
	envelope.OK(c, "phone verified", data)
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		envelope.Fail(c, err)
		return
	}
	envelope.OK(c, "login successful", authView{
		User:   userhandler.NewUserView(res.User),
		Tokens: sessionhandler.NewTokensView(res.Tokens),
	})
}

// RegisterPatient handles POST /auth/register/patient.
func (h *Handler) RegisterPatient(c *gin.Context) {
	var req patientRequest
	if !bind(c, &req) {
		return
	}
	in := service.PatientRegistration{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Email:     req.Email,
		Sex:       req.Sex,
	}
	if s := strings.TrimSpace(req.BirthDate); s != "" {
		d, err := time.Parse(time.DateOnly, s)
		if err != nil {
			envelope.Fail(c, apperror.Field("dateNaissance", "birth date must be YYYY-MM-DD").WithCode("INVALID_BIRTH_DATE"))
			return
		}
		in.BirthDate = &d
	}
	res, err := h.auth.RegisterPatient(c.Request.Context(), in)
	if err != nil {
		envelope.Fail(c, err)
		return
	}
	envelope.Created(c, "patient registered", authView{
		User:   userhandler.NewUserView(res.User),
		Tokens: sessionhandler.NewTokensView(res.Tokens),
	})
}

// RegisterDoctor handles POST /auth/register/medecin. No tokens are issued
// until an administrator validates the account.
func (h *Handler) RegisterDoctor(c *gin.Context) {
	var req doctorRequest
	if !bind(c, &req) {
		return
	}
	u, d, err := h.auth.RegisterDoctor(c.Request.Context(), service.DoctorRegistration{
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Phone:           req.Phone,
		Email:           req.Email,
		Password:        req.Password,
		LicenseNumber:   req.LicenseNumber,
		Specialties:     req.Specialties,
		Bio:             req.Bio,
		ExperienceYears: req.ExperienceYears,
	})
	if err != nil {
		envelope.Fail(c, err)
		return
	}
	envelope.Created(c, "registration received; your account is pending validation", gin.H{
		"user":    userhandler.NewUserView(u),
		"medecin": userhandler.NewDoctorView(d),
	})
}

// ForgotPassword handles POST /auth/password/forgot. The reset token is never
// part of the response.
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req forgotRequest
	if !bind(c, &req) {
		return
	}
	identifier := req.Email
	if strings.TrimSpace(identifier) == "" {
		identifier = req.Phone
	}
	res, err := h.reset.RequestReset(c.Request.Context(), identifier)
	if err != nil {
		envelope.Fail(c, err)
		return
	}
	envelope.OK(c, "reset code sent", gin.H{
		"method":           string(res.Method),
		"destination":      res.Destination,
		"expiresInMinutes": res.ExpiresInMinutes,
	})
}

// ResetPassword handles POST /auth/password/reset.
func (h *Handler) ResetPassword(c *gin.Context) {
	var req resetRequest
	if !bind(c, &req) {
		return
	}
	if err := h.reset.CompleteReset(c.Request.Context(), req.Token, req.Code, req.NewPassword); err != nil {
		envelope.Fail(c, err)
		return
	}
	envelope.OK(c, "password updated; please log in again", nil)
}

func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		envelope.Fail(c, apperror.New(apperror.KindValidation, "request body must be a JSON object"))
		return false
	}
	return true
}
