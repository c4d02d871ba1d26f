package middlewares

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/idcore/internal/metrics"
)

// WithMetrics instrumenta cada request. El label de path es el patrón de chi
// (p.ej. /oauth2/token), nunca la URL cruda, para acotar la cardinalidad.
func WithMetrics() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			done := metrics.HTTPStart(r.Method)
			rec := recorder(w)
			next.ServeHTTP(rec, r)

			path := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					path = p
				}
			}
			done(path, rec.code())
		})
	}
}
