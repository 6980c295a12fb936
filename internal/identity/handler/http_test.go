package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"medconnect/backend/internal/apperror"
	"medconnect/backend/internal/identity/service"
	otpservice "medconnect/backend/internal/otp/service"
	sessionservice "medconnect/backend/internal/session/service"
	userdomain "medconnect/backend/internal/user/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeChallenger struct {
	err error
}

func (f fakeChallenger) RequestChallenge(ctx context.Context, raw string) (*otpservice.Issued, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &otpservice.Issued{Phone: "0701020304", MaskedPhone: "07******04", ExpiresInMinutes: 5, CodeLength: 4}, nil
}

var testTokens = &sessionservice.Tokens{AccessToken: "acc", RefreshToken: "ref", ExpiresIn: 900}

type fakeAuth struct {
	mu      sync.Mutex
	patient service.PatientRegistration
}

func (f *fakeAuth) Login(ctx context.Context, email, password string) (*service.LoginResult, error) {
	if password != "correct-horse" {
		return nil, apperror.New(apperror.KindInvalidCredentials, "invalid email or password")
	}
	return &service.LoginResult{User: &userdomain.User{ID: "d1", Email: email, Role: userdomain.RoleDoctor}, Tokens: testTokens}, nil
}

func (f *fakeAuth) VerifyOTP(ctx context.Context, phone, code string) (*service.OTPResult, error) {
	switch phone {
	case "0701020304":
		return &service.OTPResult{Phone: phone, User: &userdomain.User{ID: "p1", Role: userdomain.RolePatient}, Tokens: testTokens}, nil
	case "0709090909":
		return &service.OTPResult{Phone: phone, UserType: userdomain.RoleDoctor}, nil
	case "0700000000":
		return &service.OTPResult{Phone: phone, IsNewUser: true}, nil
	}
	return nil, apperror.New(apperror.KindOTPInvalid, "invalid code")
}

func (f *fakeAuth) RegisterPatient(ctx context.Context, in service.PatientRegistration) (*service.LoginResult, error) {
	f.mu.Lock()
	f.patient = in
	f.mu.Unlock()
	return &service.LoginResult{User: &userdomain.User{ID: "p2", Role: userdomain.RolePatient}, Tokens: testTokens}, nil
}

func (f *fakeAuth) RegisterDoctor(ctx context.Context, in service.DoctorRegistration) (*userdomain.User, *userdomain.DoctorProfile, error) {
	u := &userdomain.User{ID: "d2", Role: userdomain.RoleDoctor}
	return u, &userdomain.DoctorProfile{UserID: u.ID, LicenseNumber: in.LicenseNumber, ValidationStatus: userdomain.ValidationPending}, nil
}

type fakeResetter struct {
	identifier string
}

func (f *fakeResetter) RequestReset(ctx context.Context, identifier string) (*service.ResetRequested, error) {
	f.identifier = identifier
	return &service.ResetRequested{Method: userdomain.ChannelEmail, Destination: "j***@x.ci", ExpiresInMinutes: 30}, nil
}

func (f *fakeResetter) CompleteReset(ctx context.Context, token, code, pw string) error {
	if token != "tok" {
		return apperror.New(apperror.KindInvalidResetToken, "reset token is invalid or expired")
	}
	return nil
}

type envelopeBody struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

type testEnv struct {
	router *gin.Engine
	auth   *fakeAuth
	reset  *fakeResetter
}

func newEnv(challenger Challenger) *testEnv {
	env := &testEnv{auth: &fakeAuth{}, reset: &fakeResetter{}}
	h := NewHandler(challenger, env.auth, env.reset, nil)
	r := gin.New()
	r.POST("/auth/otp/send", h.SendOTP)
	r.POST("/auth/otp/verify", h.VerifyOTP)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/register/patient", h.RegisterPatient)
	r.POST("/auth/register/medecin", h.RegisterDoctor)
	r.POST("/auth/password/forgot", h.ForgotPassword)
	r.POST("/auth/password/reset", h.ResetPassword)
	env.router = r
	return env
}

func (e *testEnv) post(t *testing.T, path string, body any) (*httptest.ResponseRecorder, envelopeBody) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var out envelopeBody
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return w, out
}

func TestSendOTP(t *testing.T) {
	env := newEnv(fakeChallenger{})
	w, body := env.post(t, "/auth/otp/send", gin.H{"telephone": "0701020304"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var data struct {
		Telephone        string `json:"telephone"`
		ExpiresInMinutes int    `json:"expiresInMinutes"`
	}
	_ = json.Unmarshal(body.Data, &data)
	if data.Telephone != "07******04" || data.ExpiresInMinutes != 5 {
		t.Errorf("data = %+v", data)
	}

	if w, _ := env.post(t, "/auth/otp/send", gin.H{}); w.Code != http.StatusBadRequest {
		t.Errorf("missing phone status = %d, want 400", w.Code)
	}
}

func TestSendOTP_RateLimited(t *testing.T) {
	env := newEnv(fakeChallenger{err: apperror.RateLimited("wait", 42*time.Second)})
	w, body := env.post(t, "/auth/otp/send", gin.H{"telephone": "0701020304"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if body.Error == nil || body.Error.Code != "RATE_LIMITED" {
		t.Errorf("error = %+v, want RATE_LIMITED", body.Error)
	}
	if got := w.Header().Get("Retry-After"); got != "42" {
		t.Errorf("Retry-After = %q, want 42", got)
	}
}

func TestVerifyOTP(t *testing.T) {
	env := newEnv(fakeChallenger{})

	_, body := env.post(t, "/auth/otp/verify", gin.H{"telephone": "0701020304", "otp": "1234"})
	var patient struct {
		Tokens struct {
			AccessToken string `json:"accessToken"`
		} `json:"tokens"`
		IsNewUser bool `json:"isNewUser"`
	}
	_ = json.Unmarshal(body.Data, &patient)
	if patient.Tokens.AccessToken != "acc" || patient.IsNewUser {
		t.Errorf("patient data = %s", body.Data)
	}

	_, body = env.post(t, "/auth/otp/verify", gin.H{"telephone": "0709090909", "otp": "1234"})
	var other map[string]any
	_ = json.Unmarshal(body.Data, &other)
	if other["userType"] != "MEDECIN" || other["verified"] != true {
		t.Errorf("doctor phone data = %v", other)
	}
	if _, ok := other["tokens"]; ok {
		t.Error("doctor phone must not receive tokens")
	}

	_, body = env.post(t, "/auth/otp/verify", gin.H{"telephone": "0700000000", "otp": "1234"})
	other = nil
	_ = json.Unmarshal(body.Data, &other)
	if other["isNewUser"] != true {
		t.Errorf("new phone data = %v", other)
	}
	if _, ok := other["userType"]; ok {
		t.Error("new phone must not carry userType")
	}

	w, body := env.post(t, "/auth/otp/verify", gin.H{"telephone": "0711111111", "otp": "0000"})
	if w.Code != http.StatusBadRequest || body.Error.Code != "OTP_INVALID" {
		t.Errorf("bad code = %d %+v", w.Code, body.Error)
	}

	if w, _ := env.post(t, "/auth/otp/verify", gin.H{"telephone": "0701020304"}); w.Code != http.StatusBadRequest {
		t.Errorf("missing otp status = %d, want 400", w.Code)
	}
}

func TestLogin(t *testing.T) {
	env := newEnv(fakeChallenger{})
	w, body := env.post(t, "/auth/login", gin.H{"email": "doc@x.ci", "password": "correct-horse"})
	if w.Code != http.StatusOK || !body.Success {
		t.Fatalf("login = %d %s", w.Code, body.Data)
	}
	w, body = env.post(t, "/auth/login", gin.H{"email": "doc@x.ci", "password": "nope"})
	if w.Code != http.StatusBadRequest || body.Error.Code != "INVALID_CREDENTIALS" {
		t.Errorf("bad password = %d %+v", w.Code, body.Error)
	}
}

func TestLogin_MalformedBody(t *testing.T) {
	env := newEnv(fakeChallenger{})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRegisterPatient(t *testing.T) {
	env := newEnv(fakeChallenger{})
	w, _ := env.post(t, "/auth/register/patient", gin.H{
		"nom": "Kouassi", "prenom": "Awa", "telephone": "0701020304",
		"email": "awa@x.ci", "dateNaissance": "1990-04-12", "sexe": "F",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	got := env.auth.patient
	if got.BirthDate == nil || got.BirthDate.Format(time.DateOnly) != "1990-04-12" {
		t.Errorf("birth date = %v", got.BirthDate)
	}
	if got.FirstName != "Awa" || got.LastName != "Kouassi" {
		t.Errorf("names = %q %q", got.FirstName, got.LastName)
	}

	w, body := env.post(t, "/auth/register/patient", gin.H{"dateNaissance": "12/04/1990"})
	if w.Code != http.StatusBadRequest || body.Error.Code != "INVALID_BIRTH_DATE" {
		t.Errorf("bad date = %d %+v", w.Code, body.Error)
	}
}

func TestRegisterDoctor_NoTokens(t *testing.T) {
	env := newEnv(fakeChallenger{})
	w, body := env.post(t, "/auth/register/medecin", gin.H{"numeroOrdre": "CI12345"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	var data map[string]json.RawMessage
	_ = json.Unmarshal(body.Data, &data)
	if _, ok := data["tokens"]; ok {
		t.Error("doctor registration must not return tokens")
	}
	var doc struct {
		Status string `json:"statutValidation"`
	}
	_ = json.Unmarshal(data["medecin"], &doc)
	if doc.Status != "EN_ATTENTE" {
		t.Errorf("statutValidation = %q, want EN_ATTENTE", doc.Status)
	}
}

func TestForgotPassword(t *testing.T) {
	env := newEnv(fakeChallenger{})
	w, body := env.post(t, "/auth/password/forgot", gin.H{"telephone": "0701020304"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if env.reset.identifier != "0701020304" {
		t.Errorf("identifier = %q, want phone fallback", env.reset.identifier)
	}
	if bytes.Contains(body.Data, []byte("token")) {
		t.Errorf("response leaks a token: %s", body.Data)
	}

	env.post(t, "/auth/password/forgot", gin.H{"email": "a@x.ci", "telephone": "0701020304"})
	if env.reset.identifier != "a@x.ci" {
		t.Errorf("identifier = %q, want email first", env.reset.identifier)
	}
}

func TestResetPassword(t *testing.T) {
	env := newEnv(fakeChallenger{})
	if w, _ := env.post(t, "/auth/password/reset", gin.H{"token": "tok", "code": "123456", "newPassword": "new-password"}); w.Code != http.StatusOK {
		t.Errorf("valid reset = %d", w.Code)
	}
	w, body := env.post(t, "/auth/password/reset", gin.H{"token": "bad", "code": "123456", "newPassword": "new-password"})
	if w.Code != http.StatusBadRequest || body.Error.Code != "INVALID_RESET_TOKEN" {
		t.Errorf("bad token = %d %+v", w.Code, body.Error)
	}
}
