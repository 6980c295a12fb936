package engine

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	userdomain "medconnect/backend/internal/user/domain"
)

const loginQuery = "data.medconnect.login.decision"

// DefaultLoginPolicy mirrors the role policy table.
const DefaultLoginPolicy = `package medconnect.login

default method_allowed := false

method_allowed if input.attempted_method == input.role_method

default active := false

active if input.status == "ACTIF"

default validated := false

validated if not input.requires_validation

validated if input.validation_status == "VALIDE"

default denial := ""

denial := "ACCOUNT_INACTIVE" if {
	not active
} else := "DOCTOR_NOT_VALIDATED" if {
	not validated
}

decision := {"method_allowed": method_allowed, "denial": denial}
`

// OPAEvaluator evaluates login eligibility with an in-process Rego policy.
type OPAEvaluator struct {
	query    rego.PreparedEvalQuery
	fallback RoleTableEvaluator
	log      zerolog.Logger
}

// NewOPAEvaluator compiles policy (DefaultLoginPolicy when empty) once.
func NewOPAEvaluator(ctx context.Context, policy string, log zerolog.Logger) (*OPAEvaluator, error) {
	if policy == "" {
		policy = DefaultLoginPolicy
	}
	pq, err := rego.New(
		rego.Query(loginQuery),
		rego.Module("login.rego", policy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile login policy: %w", err)
	}
	return &OPAEvaluator{query: pq, log: log.With().Str("component", "policy").Logger()}, nil
}

// HealthCheck evaluates the compiled policy against an active patient OTP login.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	d, err := e.eval(ctx, LoginInput{
		Role:   userdomain.RolePatient,
		Method: userdomain.LoginMethodOTP,
		Status: userdomain.UserStatusActive,
	})
	if err != nil {
		return err
	}
	if !d.MethodAllowed || d.Denial != DenialNone {
		return fmt.Errorf("login policy self-check returned %+v", d)
	}
	return nil
}

// EvaluateLogin evaluates the Rego policy. On evaluation failure it logs and
// answers from the role table instead.
func (e *OPAEvaluator) EvaluateLogin(ctx context.Context, in LoginInput) (LoginDecision, error) {
	d, err := e.eval(ctx, in)
	if err != nil {
		e.log.Error().Err(err).Str("role", string(in.Role)).Msg("login policy evaluation failed, using role table")
		return e.fallback.EvaluateLogin(ctx, in)
	}
	return d, nil
}

func (e *OPAEvaluator) eval(ctx context.Context, in LoginInput) (LoginDecision, error) {
	p := in.Role.Policy()
	input := map[string]interface{}{
		"role":                string(in.Role),
		"role_method":         string(p.LoginMethod),
		"attempted_method":    string(in.Method),
		"status":              string(in.Status),
		"requires_validation": p.RequiresValidation,
		"validation_status":   string(in.ValidationStatus),
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return LoginDecision{}, fmt.Errorf("eval login policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return LoginDecision{}, fmt.Errorf("login policy returned no result")
	}
	obj, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return LoginDecision{}, fmt.Errorf("login policy returned %T", rs[0].Expressions[0].Value)
	}
	allowed, ok := obj["method_allowed"].(bool)
	if !ok {
		return LoginDecision{}, fmt.Errorf("login policy: method_allowed missing")
	}
	denial, ok := obj["denial"].(string)
	if !ok {
		return LoginDecision{}, fmt.Errorf("login policy: denial missing")
	}
	return LoginDecision{MethodAllowed: allowed, Denial: denial}, nil
}
