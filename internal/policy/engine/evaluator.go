package engine

import (
	"context"

	userdomain "medconnect/backend/internal/user/domain"
)

// Account denial reasons returned in LoginDecision.Denial.
const (
	DenialNone               = ""
	DenialAccountInactive    = "ACCOUNT_INACTIVE"
	DenialDoctorNotValidated = "DOCTOR_NOT_VALIDATED"
)

// LoginInput is the account state a login-eligibility decision is made on.
type LoginInput struct {
	Role             userdomain.Role
	Method           userdomain.LoginMethod
	Status           userdomain.UserStatus
	ValidationStatus userdomain.ValidationStatus
}

// LoginDecision is the result of login-eligibility evaluation. MethodAllowed is
// checked before credentials; Denial applies once credentials are proven.
type LoginDecision struct {
	MethodAllowed bool
	Denial        string
}

// Evaluator decides whether an account may authenticate with a method.
type Evaluator interface {
	EvaluateLogin(ctx context.Context, in LoginInput) (LoginDecision, error)
}

// RoleTableEvaluator evaluates login eligibility from the role policy table.
// It is the fallback when the Rego policy cannot be evaluated.
type RoleTableEvaluator struct{}

func (RoleTableEvaluator) EvaluateLogin(_ context.Context, in LoginInput) (LoginDecision, error) {
	p := in.Role.Policy()
	d := LoginDecision{MethodAllowed: p.LoginMethod != "" && p.LoginMethod == in.Method}
	switch {
	case in.Status != userdomain.UserStatusActive:
		d.Denial = DenialAccountInactive
	case p.RequiresValidation && in.ValidationStatus != userdomain.ValidationApproved:
		d.Denial = DenialDoctorNotValidated
	}
	return d, nil
}
