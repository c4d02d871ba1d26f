package middlewares

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/dropDatabas3/idcore/internal/http/errors"
	"github.com/dropDatabas3/idcore/internal/jwt"
	"github.com/dropDatabas3/idcore/internal/observability/logger"
)

// TokenValidator es lo que RequireAuth necesita del issuer.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*jwt.Claims, error)
}

func bearer(r *http.Request) string {
	ah := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(ah) < 7 || !strings.EqualFold(ah[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(ah[7:])
}

// RequireAuth valida Authorization: Bearer <JWT> y guarda las claims en el
// contexto. Expirado e inválido se responden con códigos distintos.
func RequireAuth(v TokenValidator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearer(r)
			if raw == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
				errors.WriteError(w, errors.ErrTokenMissing)
				return
			}

			claims, err := v.Validate(r.Context(), raw)
			if err != nil {
				appErr := errors.ErrTokenInvalid
				desc := "invalid token"
				if stderrors.Is(err, jwt.ErrExpired) {
					appErr, desc = errors.ErrTokenExpired, "token expired"
				}
				w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token", error_description="`+desc+`"`)
				errors.WriteError(w, appErr)
				return
			}

			ctx := WithClaims(r.Context(), claims)
			ctx = logger.ToContext(ctx, logger.From(ctx).With(
				logger.TenantID(claims.TenantID), logger.PrincipalID(claims.Subject)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
