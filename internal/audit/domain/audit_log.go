package domain

import "time"

// Audit actions recorded by the auth flows.
const (
	ActionLoginSuccess     = "login_success"
	ActionLoginFailure     = "login_failure"
	ActionOTPSent          = "otp_sent"
	ActionOTPVerified      = "otp_verified"
	ActionOTPFailure       = "otp_failure"
	ActionRegister         = "register"
	ActionRefresh          = "refresh"
	ActionRefreshFailure   = "refresh_failure"
	ActionLogout           = "logout"
	ActionLogoutAll        = "logout_all"
	ActionPasswordForgot   = "password_forgot"
	ActionPasswordReset    = "password_reset"
	ActionDoctorValidation = "doctor_validation"
)

// Audit resources.
const (
	ResourceAuth     = "auth"
	ResourceSession  = "session"
	ResourceOTP      = "otp"
	ResourcePassword = "password"
	ResourceDoctor   = "doctor"
)

// AuditLog represents an audit event. Metadata is a JSON object or empty.
type AuditLog struct {
	ID        string
	UserID    string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
