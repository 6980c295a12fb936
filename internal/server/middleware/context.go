package middleware

import (
	"context"

	sessionservice "medconnect/backend/internal/session/service"
)

type contextKey struct{ name string }

var (
	identityKey  = contextKey{"identity"}
	clientIPKey  = contextKey{"client_ip"}
	requestIDKey = contextKey{"request_id"}
)

// WithIdentity returns a context carrying the authenticated caller.
func WithIdentity(ctx context.Context, id *sessionservice.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity returns the authenticated caller and true if the auth gate ran; otherwise nil, false.
func GetIdentity(ctx context.Context) (*sessionservice.Identity, bool) {
	id, ok := ctx.Value(identityKey).(*sessionservice.Identity)
	return id, ok && id != nil && id.User != nil
}

// WithClientIP returns a context carrying the caller's IP.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP returns the caller's IP, or "" outside an HTTP request. It is the
// audit logger's IP extractor.
func ClientIP(ctx context.Context) string {
	v, _ := ctx.Value(clientIPKey).(string)
	return v
}

// GetRequestID returns the request id set by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}
