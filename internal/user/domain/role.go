package domain

import "time"

// Role is the closed set of account roles.
type Role string

const (
	RolePatient Role = "PATIENT"
	RoleDoctor  Role = "MEDECIN"
	RoleAdmin   Role = "ADMIN"
)

// LoginMethod is how a role authenticates.
type LoginMethod string

const (
	LoginMethodOTP      LoginMethod = "OTP"
	LoginMethodPassword LoginMethod = "PASSWORD"
)

// RolePolicy is the per-role authentication policy.
type RolePolicy struct {
	LoginMethod LoginMethod
	AccessTTL   time.Duration
	// RefreshTTL is zero when the role never receives a refresh token.
	RefreshTTL time.Duration
	// RequiresValidation means the account must be approved (doctor validation) before it can authenticate.
	RequiresValidation bool
}

// IssuesRefresh reports whether sessions for the role can be extended.
func (p RolePolicy) IssuesRefresh() bool { return p.RefreshTTL > 0 }

const day = 24 * time.Hour

var rolePolicies = map[Role]RolePolicy{
	RolePatient: {LoginMethod: LoginMethodOTP, AccessTTL: 7 * day, RefreshTTL: 30 * day},
	RoleDoctor:  {LoginMethod: LoginMethodPassword, AccessTTL: 1 * day, RefreshTTL: 30 * day, RequiresValidation: true},
	RoleAdmin:   {LoginMethod: LoginMethodPassword, AccessTTL: 1 * day},
}

// Roles lists every role.
func Roles() []Role { return []Role{RolePatient, RoleDoctor, RoleAdmin} }

// ParseRole returns the role for s and whether it is known.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.Valid()
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := rolePolicies[r]
	return ok
}

// Policy returns the role's policy. Unknown roles get the zero policy (no login method, no TTLs).
func (r Role) Policy() RolePolicy {
	return rolePolicies[r]
}

// AuthMethodLabel is the public name of the role's login method.
func (r Role) AuthMethodLabel() string {
	if r.Policy().LoginMethod == LoginMethodOTP {
		return "OTP_ONLY"
	}
	return "EMAIL_PASSWORD"
}
