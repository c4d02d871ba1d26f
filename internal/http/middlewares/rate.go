package middlewares

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dropDatabas3/idcore/internal/http/errors"
	"github.com/dropDatabas3/idcore/internal/metrics"
	"github.com/dropDatabas3/idcore/internal/observability/logger"
	"github.com/dropDatabas3/idcore/internal/rate"
)

// RateKeyFunc define cómo generar la clave de rate limiting.
type RateKeyFunc func(r *http.Request) string

// RateLimitConfig configura el middleware. Limit/Window en cero usan el
// límite por defecto del limiter.
type RateLimitConfig struct {
	Limiter rate.MultiLimiter
	KeyFunc RateKeyFunc
	Limit   int
	Window  time.Duration
}

// WithRateLimit corta con 429 cuando la clave supera el límite. Si el
// backend falla el request pasa.
func WithRateLimit(cfg RateLimitConfig) Middleware {
	if cfg.Limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = rate.IPPathKey
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := cfg.Limiter.AllowWithLimits(r.Context(), cfg.KeyFunc(r), cfg.Limit, cfg.Window)
			if err != nil {
				logger.From(r.Context()).Warn("rate limit backend error", logger.Err(err))
				next.ServeHTTP(w, r)
				return
			}

			if res.WindowTTL > 0 {
				resetAt := time.Now().Add(res.WindowTTL).Unix()
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))

			if !res.Allowed {
				secs := int(res.RetryAfter.Round(time.Second).Seconds())
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				metrics.RecordRateLimited(r.URL.Path)
				errors.WriteError(w, errors.ErrRateLimitExceeded)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
