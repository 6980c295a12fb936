package engine

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	userdomain "medconnect/backend/internal/user/domain"
)

func newTestEvaluator(t *testing.T) *OPAEvaluator {
	t.Helper()
	e, err := NewOPAEvaluator(context.Background(), "", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	return e
}

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	if err := newTestEvaluator(t).HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestNewOPAEvaluator_BadPolicy(t *testing.T) {
	if _, err := NewOPAEvaluator(context.Background(), "package broken\n\nallow if {", zerolog.Nop()); err == nil {
		t.Fatal("expected compile error")
	}
}

var loginCases = []struct {
	name string
	in   LoginInput
	want LoginDecision
}{
	{
		name: "patient otp",
		in:   LoginInput{Role: userdomain.RolePatient, Method: userdomain.LoginMethodOTP, Status: userdomain.UserStatusActive},
		want: LoginDecision{MethodAllowed: true},
	},
	{
		name: "patient password",
		in:   LoginInput{Role: userdomain.RolePatient, Method: userdomain.LoginMethodPassword, Status: userdomain.UserStatusActive},
		want: LoginDecision{MethodAllowed: false},
	},
	{
		name: "suspended patient",
		in:   LoginInput{Role: userdomain.RolePatient, Method: userdomain.LoginMethodOTP, Status: userdomain.UserStatusSuspended},
		want: LoginDecision{MethodAllowed: true, Denial: DenialAccountInactive},
	},
	{
		name: "pending doctor",
		in: LoginInput{Role: userdomain.RoleDoctor, Method: userdomain.LoginMethodPassword, Status: userdomain.UserStatusActive,
			ValidationStatus: userdomain.ValidationPending},
		want: LoginDecision{MethodAllowed: true, Denial: DenialDoctorNotValidated},
	},
	{
		name: "validated doctor",
		in: LoginInput{Role: userdomain.RoleDoctor, Method: userdomain.LoginMethodPassword, Status: userdomain.UserStatusActive,
			ValidationStatus: userdomain.ValidationApproved},
		want: LoginDecision{MethodAllowed: true},
	},
	{
		name: "disabled pending doctor reports inactive first",
		in: LoginInput{Role: userdomain.RoleDoctor, Method: userdomain.LoginMethodPassword, Status: userdomain.UserStatusDisabled,
			ValidationStatus: userdomain.ValidationPending},
		want: LoginDecision{MethodAllowed: true, Denial: DenialAccountInactive},
	},
	{
		name: "doctor otp",
		in: LoginInput{Role: userdomain.RoleDoctor, Method: userdomain.LoginMethodOTP, Status: userdomain.UserStatusActive,
			ValidationStatus: userdomain.ValidationApproved},
		want: LoginDecision{MethodAllowed: false},
	},
	{
		name: "admin password",
		in:   LoginInput{Role: userdomain.RoleAdmin, Method: userdomain.LoginMethodPassword, Status: userdomain.UserStatusActive},
		want: LoginDecision{MethodAllowed: true},
	},
}

func TestOPAEvaluator_EvaluateLogin(t *testing.T) {
	e := newTestEvaluator(t)
	for _, tc := range loginCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.EvaluateLogin(context.Background(), tc.in)
			if err != nil {
				t.Fatalf("EvaluateLogin: %v", err)
			}
			if got != tc.want {
				t.Errorf("decision = %+v, want %+v", got, tc.want)
			}
		})
	}
}

// The Rego policy and the role table must agree on every case.
func TestRoleTableEvaluator_MatchesPolicy(t *testing.T) {
	var table RoleTableEvaluator
	for _, tc := range loginCases {
		got, _ := table.EvaluateLogin(context.Background(), tc.in)
		if got != tc.want {
			t.Errorf("%s: decision = %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func TestOPAEvaluator_FallsBackOnBadResult(t *testing.T) {
	const policy = "package medconnect.login\n\ndecision := {\"method_allowed\": \"yes\"}\n"
	e, err := NewOPAEvaluator(context.Background(), policy, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	in := LoginInput{Role: userdomain.RoleAdmin, Method: userdomain.LoginMethodPassword, Status: userdomain.UserStatusSuspended}
	got, err := e.EvaluateLogin(context.Background(), in)
	if err != nil {
		t.Fatalf("EvaluateLogin: %v", err)
	}
	if want := (LoginDecision{MethodAllowed: true, Denial: DenialAccountInactive}); got != want {
		t.Errorf("decision = %+v, want %+v", got, want)
	}
	if err := e.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck should fail for a policy with the wrong result shape")
	}
}
