package middlewares

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/dropDatabas3/idcore/internal/observability/logger"
	"github.com/dropDatabas3/idcore/internal/rate"
)

// WithRequestID genera o propaga X-Request-ID y deja en el contexto un logger
// con request_id, protocol y remote_addr.
func WithRequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
			if rid == "" || len(rid) > 128 {
				rid = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", rid)

			ctx := setRequestID(r.Context(), rid)
			ctx, _ = logger.Scoped(ctx, "http", rid, rate.ClientIP(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
