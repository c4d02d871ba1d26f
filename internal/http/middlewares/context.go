package middlewares

import (
	"context"

	"github.com/dropDatabas3/idcore/internal/jwt"
)

type ctxKey string

const (
	ctxClaimsKey    ctxKey = "claims"
	ctxRequestIDKey ctxKey = "request_id"
)

// WithClaims inyecta las claims del access token validado.
func WithClaims(ctx context.Context, c *jwt.Claims) context.Context {
	return context.WithValue(ctx, ctxClaimsKey, c)
}

func setRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, requestID)
}

// GetClaims devuelve nil si la ruta no pasó por RequireAuth.
func GetClaims(ctx context.Context) *jwt.Claims {
	c, _ := ctx.Value(ctxClaimsKey).(*jwt.Claims)
	return c
}

func GetRequestID(ctx context.Context) string {
	s, _ := ctx.Value(ctxRequestIDKey).(string)
	return s
}
