package auth

import (
	"context"
	"strings"
)

type userIDContextKey struct{}
type roleContextKey struct{}
type clientIPContextKey struct{}

// ContextWithUser stores the authenticated identity in the context.
func ContextWithUser(ctx context.Context, userID string, role Role) context.Context {
	ctx = context.WithValue(ctx, userIDContextKey{}, strings.TrimSpace(userID))
	if role != "" {
		ctx = context.WithValue(ctx, roleContextKey{}, role)
	}
	return ctx
}

// UserIDFromContext extracts the authenticated user ID from the context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDContextKey{}).(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// RoleFromContext returns the role bound to the request's token.
func RoleFromContext(ctx context.Context) (Role, bool) {
	v, ok := ctx.Value(roleContextKey{}).(Role)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// ContextWithClientIP records the remote address for audit entries.
func ContextWithClientIP(ctx context.Context, ip string) context.Context {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// ClientIPFromContext returns the remote address recorded for this request.
func ClientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(clientIPContextKey{}).(string); ok {
		return v
	}
	return ""
}
