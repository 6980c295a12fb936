// Package handler serves GET /dev/otp. Only mounted when dev OTP mode is enabled
// outside production.
package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"medconnect/backend/internal/apperror"
	"medconnect/backend/internal/devotp"
	"medconnect/backend/internal/otp"
	"medconnect/backend/internal/server/envelope"
)

const devOTPNote = "DEV MODE ONLY"

// Handler reads codes back from the dev store.
type Handler struct {
	store devotp.Store
}

// NewHandler returns a Handler reading from store.
func NewHandler(store devotp.Store) *Handler {
	return &Handler{store: store}
}

// GetOTP returns the live code for ?telephone=. NOT_FOUND if missing or expired.
func (h *Handler) GetOTP(c *gin.Context) {
	phone, err := otp.NormalizePhone(c.Query("telephone"))
	if err != nil {
		envelope.Fail(c, apperror.New(apperror.KindInvalidPhone, "phone number must contain between 8 and 10 digits").
			WithDetail("field", "telephone"))
		return
	}
	code, expiresAt, ok := h.store.Get(c.Request.Context(), phone)
	if !ok {
		envelope.Fail(c, apperror.New(apperror.KindNotFound, "no live code for this phone").WithCode("OTP_NOT_FOUND"))
		return
	}
	envelope.OK(c, devOTPNote, gin.H{
		"telephone": phone,
		"otp":       code,
		"expiresAt": expiresAt.UTC().Format(time.RFC3339),
	})
}
