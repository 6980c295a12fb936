package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"medconnect/backend/internal/apperror"
	"medconnect/backend/internal/audit"
	auditdomain "medconnect/backend/internal/audit/domain"
	"medconnect/backend/internal/server/envelope"
	"medconnect/backend/internal/server/middleware"
	"medconnect/backend/internal/session/service"
	userhandler "medconnect/backend/internal/user/handler"
)

// TokensView is the public JSON form of a token pair. refreshToken is omitted
// for roles that never receive one.
type TokensView struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// NewTokensView renders t.
func NewTokensView(t *service.Tokens) TokensView {
	return TokensView{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken, ExpiresIn: t.ExpiresIn}
}

type tokenSummaryView struct {
	Hash      string `json:"hash"`
	ExpiresAt string `json:"expiresAt"`
}

type sessionView struct {
	CreatedAt    string            `json:"createdAt"`
	ExpiresAt    string            `json:"expiresAt"`
	AccessToken  *tokenSummaryView `json:"accessToken,omitempty"`
	RefreshToken *tokenSummaryView `json:"refreshToken,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Handler serves refresh, logout and session listing.
type Handler struct {
	sessions    *service.Manager
	auditLogger audit.AuditLogger
}

// NewHandler returns a Handler. auditLogger may be nil.
func NewHandler(sessions *service.Manager, auditLogger audit.AuditLogger) *Handler {
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	return &Handler{sessions: sessions, auditLogger: auditLogger}
}

// Refresh handles POST /auth/refresh.
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		envelope.Fail(c, apperror.Field("refreshToken", "refreshToken is required"))
		return
	}
	ctx := c.Request.Context()
	tokens, u, err := h.sessions.RotateRefresh(ctx, req.RefreshToken)
	if err != nil {
		h.auditLogger.LogEvent(ctx, "", auditdomain.ActionRefreshFailure, auditdomain.ResourceSession,
			map[string]any{"reason": string(apperror.KindOf(err))})
		envelope.Fail(c, err)
		return
	}
	h.auditLogger.LogEvent(ctx, u.ID, auditdomain.ActionRefresh, auditdomain.ResourceSession, nil)
	envelope.OK(c, "tokens refreshed", gin.H{"user": userhandler.NewUserView(u), "tokens": NewTokensView(tokens)})
}

// Logout handles POST /auth/logout: only the calling session is revoked.
func (h *Handler) Logout(c *gin.Context) {
	id, ok := middleware.GetIdentity(c.Request.Context())
	if !ok {
		envelope.Fail(c, apperror.New(apperror.KindUnauthorized, "authentication required"))
		return
	}
	ctx := c.Request.Context()
	n, err := h.sessions.RevokeSession(ctx, id.User.ID, middleware.BearerToken(c.Request))
	if err != nil {
		envelope.Fail(c, err)
		return
	}
	h.auditLogger.LogEvent(ctx, id.User.ID, auditdomain.ActionLogout, auditdomain.ResourceSession, map[string]any{"revoked": n})
	envelope.OK(c, "logged out", nil)
}

// LogoutAll handles DELETE /auth/logout/all.
func (h *Handler) LogoutAll(c *gin.Context) {
	id, ok := middleware.GetIdentity(c.Request.Context())
	if !ok {
		envelope.Fail(c, apperror.New(apperror.KindUnauthorized, "authentication required"))
		return
	}
	ctx := c.Request.Context()
	n, err := h.sessions.RevokeAll(ctx, id.User.ID)
	if err != nil {
		envelope.Fail(c, err)
		return
	}
	h.auditLogger.LogEvent(ctx, id.User.ID, auditdomain.ActionLogoutAll, auditdomain.ResourceSession, map[string]any{"revoked": n})
	envelope.OK(c, "logged out of all sessions", gin.H{"revokedTokens": n})
}

// Sessions handles GET /auth/sessions.
func (h *Handler) Sessions(c *gin.Context) {
	id, ok := middleware.GetIdentity(c.Request.Context())
	if !ok {
		envelope.Fail(c, apperror.New(apperror.KindUnauthorized, "authentication required"))
		return
	}
	list, err := h.sessions.ListSessions(c.Request.Context(), id.User.ID)
	if err != nil {
		envelope.Fail(c, err)
		return
	}
	out := make([]sessionView, 0, len(list))
	for _, s := range list {
		out = append(out, sessionView{
			CreatedAt:    formatTime(s.CreatedAt),
			ExpiresAt:    formatTime(s.ExpiresAt),
			AccessToken:  summaryView(s.Access),
			RefreshToken: summaryView(s.Refresh),
		})
	}
	envelope.OK(c, "", gin.H{"sessions": out, "total": len(out)})
}

func summaryView(t *service.TokenSummary) *tokenSummaryView {
	if t == nil {
		return nil
	}
	return &tokenSummaryView{Hash: t.HashPrefix, ExpiresAt: formatTime(t.ExpiresAt)}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
