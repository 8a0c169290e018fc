// Package auth provides request authentication for the converter API.
// Three modes are supported: none (development), apikey (shared keys from
// config), and jwt (HS256 bearer tokens). All modes record the
// authenticated actor on the request context for the audit trail.
package auth

import (
	"context"

	"github.com/labstack/echo/v4"
)

type contextKey string

// ActorKey holds the authenticated caller identity: "dev-user" in
// development mode, the key prefix for API keys, or the JWT subject.
const ActorKey contextKey = "actor"

// WithActor returns a context carrying the authenticated actor identity.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// ActorFromContext returns the authenticated actor, or "" when the request
// was not authenticated.
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(ActorKey).(string)
	return actor
}

// DevAuthMiddleware is the permissive middleware for AUTH_MODE=none. Every
// request is accepted and stamped with a development actor so downstream
// audit logging still has an identity to record.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := WithActor(c.Request().Context(), "dev-user")
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
