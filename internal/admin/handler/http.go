package handler

import (
	"github.com/gin-gonic/gin"

	"medconnect/backend/internal/apperror"
	"medconnect/backend/internal/server/envelope"
	"medconnect/backend/internal/server/middleware"
	"medconnect/backend/internal/user/domain"
	userhandler "medconnect/backend/internal/user/handler"
	"medconnect/backend/internal/user/service"
)

type validationRequest struct {
	Status          string `json:"status"`
	RejectionReason string `json:"motifRejet"`
}

// Handler serves administrative operations. Routes are mounted behind Authorize(ADMIN).
type Handler struct {
	profiles *service.ProfileService
}

// NewHandler returns a Handler.
func NewHandler(profiles *service.ProfileService) *Handler {
	return &Handler{profiles: profiles}
}

// SetDoctorValidation handles PATCH /admin/medecins/:userId/validation.
func (h *Handler) SetDoctorValidation(c *gin.Context) {
	id, ok := middleware.GetIdentity(c.Request.Context())
	if !ok {
		envelope.Fail(c, apperror.New(apperror.KindUnauthorized, "authentication required"))
		return
	}
	var req validationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		envelope.Fail(c, apperror.New(apperror.KindValidation, "request body must be a JSON object"))
		return
	}
	d, err := h.profiles.SetDoctorValidation(c.Request.Context(), id.User, c.Param("userId"),
		domain.ValidationStatus(req.Status), req.RejectionReason)
	if err != nil {
		envelope.Fail(c, err)
		return
	}
	msg := "doctor approved"
	if d.ValidationStatus == domain.ValidationRejected {
		msg = "doctor rejected"
	}
	envelope.OK(c, msg, gin.H{"userId": d.UserID, "medecin": userhandler.NewDoctorView(d)})
}
