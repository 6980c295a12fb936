package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"medconnect/backend/internal/apperror"
	"medconnect/backend/internal/platform/rbac"
	"medconnect/backend/internal/server/envelope"
	sessionservice "medconnect/backend/internal/session/service"
	userdomain "medconnect/backend/internal/user/domain"
)

const bearerPrefix = "bearer "

// Authenticator resolves a bearer access token. Implemented by the session manager.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (*sessionservice.Identity, error)
}

// Authenticate is the auth gate: it requires a bearer access token that resolves
// to an active user and puts the identity on the request context.
func Authenticate(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c.Request)
		if token == "" {
			envelope.Fail(c, apperror.New(apperror.KindUnauthorized, "missing or invalid authorization"))
			return
		}
		id, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			envelope.Fail(c, err)
			return
		}
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// Authorize admits only the given roles. It must run after Authenticate.
func Authorize(roles ...userdomain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := GetIdentity(c.Request.Context())
		if !ok {
			envelope.Fail(c, apperror.New(apperror.KindUnauthorized, "authentication required"))
			return
		}
		if err := rbac.RequireRole(id.User.Role, roles...); err != nil {
			envelope.Fail(c, err)
			return
		}
		c.Next()
	}
}

// BearerToken returns the token from the Authorization header, or "" if missing or malformed.
func BearerToken(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
