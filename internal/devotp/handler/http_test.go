package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"medconnect/backend/internal/devotp"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(store devotp.Store) *gin.Engine {
	r := gin.New()
	r.GET("/dev/otp", NewHandler(store).GetOTP)
	return r
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestGetOTP_Success(t *testing.T) {
	store := devotp.NewMemoryStore()
	store.Put(context.Background(), "0701020304", "4821", time.Now().Add(5*time.Minute))

	w := get(newRouter(store), "/dev/otp?telephone=07%2001%2002%2003%2004")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	var body struct {
		Message string `json:"message"`
		Data    struct {
			Telephone string `json:"telephone"`
			OTP       string `json:"otp"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.OTP != "4821" {
		t.Errorf("otp = %q, want %q", body.Data.OTP, "4821")
	}
	if body.Data.Telephone != "0701020304" {
		t.Errorf("telephone = %q, want normalized", body.Data.Telephone)
	}
	if body.Message != devOTPNote {
		t.Errorf("message = %q, want %q", body.Message, devOTPNote)
	}
}

func TestGetOTP_Missing(t *testing.T) {
	w := get(newRouter(devotp.NewMemoryStore()), "/dev/otp?telephone=0701020304")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetOTP_Expired(t *testing.T) {
	store := devotp.NewMemoryStore()
	store.Put(context.Background(), "0701020304", "4821", time.Now().Add(-time.Second))
	if w := get(newRouter(store), "/dev/otp?telephone=0701020304"); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetOTP_InvalidPhone(t *testing.T) {
	w := get(newRouter(devotp.NewMemoryStore()), "/dev/otp?telephone=12")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
