package envelope

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"medconnect/backend/internal/apperror"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(h gin.HandlerFunc) *httptest.ResponseRecorder {
	r := gin.New()
	r.GET("/x", h)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return body
}

func TestOK(t *testing.T) {
	w := serve(func(c *gin.Context) { OK(c, "done", gin.H{"n": 1}) })
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decode(t, w)
	if body["success"] != true || body["message"] != "done" {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["error"]; ok {
		t.Error("success envelope carries an error")
	}
	if ts, _ := body["timestamp"].(string); ts == "" {
		t.Error("timestamp missing")
	}
}

func TestFail_KindStatusAndDetails(t *testing.T) {
	w := serve(func(c *gin.Context) {
		Fail(c, apperror.Field("email", "invalid email format"))
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	body := decode(t, w)
	errBody := body["error"].(map[string]any)
	if errBody["code"] != "VALIDATION" || errBody["details"].(map[string]any)["field"] != "email" {
		t.Errorf("error = %v", errBody)
	}
}

func TestFail_RateLimited(t *testing.T) {
	w := serve(func(c *gin.Context) {
		Fail(c, apperror.RateLimited("slow down", 1500*time.Millisecond))
	})
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want 2", got)
	}
	errBody := decode(t, w)["error"].(map[string]any)
	if errBody["retryAfter"] != float64(2) {
		t.Errorf("retryAfter = %v, want 2", errBody["retryAfter"])
	}
}

func TestFail_CodeOverride(t *testing.T) {
	w := serve(func(c *gin.Context) {
		Fail(c, apperror.New(apperror.KindDeliveryFailed, "sms down").WithCode("SMS_SEND_FAILED"))
	})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if code := decode(t, w)["error"].(map[string]any)["code"]; code != "SMS_SEND_FAILED" {
		t.Errorf("code = %v, want SMS_SEND_FAILED", code)
	}
}

func TestFail_InternalHidesDetail(t *testing.T) {
	w := serve(func(c *gin.Context) {
		Fail(c, errors.New("pq: relation users does not exist"))
	})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "relation") {
		t.Errorf("internal detail leaked: %s", w.Body.String())
	}
	if code := decode(t, w)["error"].(map[string]any)["code"]; code != "INTERNAL" {
		t.Errorf("code = %v, want INTERNAL", code)
	}
}
