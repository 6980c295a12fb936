package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"medconnect/backend/internal/apperror"
	sessionservice "medconnect/backend/internal/session/service"
	userdomain "medconnect/backend/internal/user/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAuth struct {
	users map[string]*userdomain.User
}

func (f fakeAuth) Authenticate(ctx context.Context, raw string) (*sessionservice.Identity, error) {
	if raw == "expired" {
		return nil, apperror.New(apperror.KindTokenExpired, "access token expired")
	}
	u, ok := f.users[raw]
	if !ok {
		return nil, apperror.New(apperror.KindUnauthorized, "invalid access token")
	}
	return &sessionservice.Identity{User: u, TokenHash: "h-" + raw}, nil
}

func newRouter() *gin.Engine {
	auth := fakeAuth{users: map[string]*userdomain.User{
		"patient": {ID: "p1", Role: userdomain.RolePatient},
		"admin":   {ID: "a1", Role: userdomain.RoleAdmin},
		"doctor":  {ID: "d1", Role: userdomain.RoleDoctor},
	}}
	r := gin.New()
	r.Use(RequestID(zerolog.Nop()), Recovery(zerolog.Nop()))
	whoami := func(c *gin.Context) {
		id, _ := GetIdentity(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"id": id.User.ID, "ip": ClientIP(c.Request.Context())})
	}
	protected := r.Group("/", Authenticate(auth))
	protected.GET("/me", whoami)
	protected.GET("/admin", Authorize(userdomain.RoleAdmin), whoami)
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r
}

func do(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return body.Error.Code
}

func TestAuthenticate(t *testing.T) {
	r := newRouter()
	tests := []struct {
		name, token string
		status      int
		code        string
	}{
		{"no token", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"unknown token", "garbage", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"expired", "expired", http.StatusUnauthorized, "TOKEN_EXPIRED"},
		{"valid", "patient", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, "/me", tt.token)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
			if tt.code != "" {
				if got := errorCode(t, w); got != tt.code {
					t.Errorf("code = %q, want %q", got, tt.code)
				}
			}
		})
	}
}

func TestAuthorize(t *testing.T) {
	r := newRouter()
	if w := do(r, "/admin", "patient"); w.Code != http.StatusForbidden || errorCode(t, w) != "FORBIDDEN" {
		t.Errorf("patient on /admin = %d %s", w.Code, w.Body.String())
	}
	if w := do(r, "/admin", "admin"); w.Code != http.StatusOK {
		t.Errorf("admin on /admin = %d", w.Code)
	}
}

func TestRequestID(t *testing.T) {
	r := newRouter()
	w := do(r, "/me", "patient")
	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("request id header missing")
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer patient")
	req.Header.Set(RequestIDHeader, "req-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(RequestIDHeader); got != "req-123" {
		t.Errorf("request id = %q, want req-123", got)
	}
	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["ip"] == "" {
		t.Error("client ip not on context")
	}
}

func TestRecovery(t *testing.T) {
	w := do(newRouter(), "/panic", "")
	if w.Code != http.StatusInternalServerError || errorCode(t, w) != "INTERNAL" {
		t.Errorf("panic = %d %s", w.Code, w.Body.String())
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct{ header, want string }{
		{"", ""},
		{"Bearer abc", "abc"},
		{"bearer   abc  ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", tt.header)
		if got := BearerToken(req); got != tt.want {
			t.Errorf("BearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestGetIdentity_NotSet(t *testing.T) {
	if _, ok := GetIdentity(context.Background()); ok {
		t.Error("GetIdentity on empty context should return false")
	}
}
