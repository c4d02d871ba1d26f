// Package metrics define las métricas Prometheus del proceso. Vive aparte para
// que http, radius, ldap y sectoken registren sin ciclos de import.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once    sync.Once
	regErr  error
	gatherF prometheus.Gatherer

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInflight        *prometheus.GaugeVec

	loginsTotal         *prometheus.CounterVec
	tokensIssuedTotal   *prometheus.CounterVec
	tokensConsumedTotal *prometheus.CounterVec
	radiusPacketsTotal  *prometheus.CounterVec
	ldapBindsTotal      *prometheus.CounterVec
	rateLimitedTotal    *prometheus.CounterVec
)

// Register crea y registra las métricas en reg (default si nil). Idempotente.
// Devuelve el handler para /metrics.
func Register(reg prometheus.Registerer) (http.Handler, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	once.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Número total de requests procesadas",
		}, []string{"method", "path", "status"})
		httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latencia de los requests HTTP",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"})
		httpInflight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Requests en vuelo por método",
		}, []string{"method"})
		loginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idcore_logins_total",
			Help: "Intentos de login por protocolo y resultado",
		}, []string{"protocol", "result"})
		tokensIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idcore_tokens_issued_total",
			Help: "Tokens emitidos por tipo",
		}, []string{"kind"})
		tokensConsumedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idcore_tokens_consumed_total",
			Help: "Lookups/consumos de tokens por tipo y resultado",
		}, []string{"kind", "result"}) // result: ok|inactive
		radiusPacketsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idcore_radius_packets_total",
			Help: "Paquetes RADIUS por código de request y respuesta",
		}, []string{"request", "response"})
		ldapBindsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idcore_ldap_binds_total",
			Help: "Binds LDAP por resultado",
		}, []string{"result"})
		rateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idcore_rate_limited_total",
			Help: "Requests rechazadas por rate limit",
		}, []string{"path"})

		for _, c := range []prometheus.Collector{
			httpRequestsTotal, httpRequestDuration, httpInflight,
			loginsTotal, tokensIssuedTotal, tokensConsumedTotal,
			radiusPacketsTotal, ldapBindsTotal, rateLimitedTotal,
		} {
			if err := registerCollector(reg, c); err != nil {
				regErr = err
				return
			}
		}
		if g, ok := reg.(prometheus.Gatherer); ok {
			gatherF = g
		} else {
			gatherF = prometheus.DefaultGatherer
		}
	})
	if regErr != nil {
		return nil, regErr
	}
	return promhttp.HandlerFor(gatherF, promhttp.HandlerOpts{}), nil
}

// registerCollector ignora duplicados.
func registerCollector(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

// Los Record* son no-op hasta que se llama Register.

// HTTPStart marca el inicio de un request. El path se pasa al terminar porque
// con chi el patrón de ruta se conoce recién después de rutear.
func HTTPStart(method string) func(path string, status int) {
	if httpRequestsTotal == nil {
		return func(string, int) {}
	}
	httpInflight.WithLabelValues(method).Inc()
	start := time.Now()
	return func(path string, status int) {
		httpInflight.WithLabelValues(method).Dec()
		httpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	}
}

func RecordLogin(protocol, result string) {
	if loginsTotal != nil {
		loginsTotal.WithLabelValues(protocol, result).Inc()
	}
}

func RecordTokenIssued(kind string) {
	if tokensIssuedTotal != nil {
		tokensIssuedTotal.WithLabelValues(kind).Inc()
	}
}

func RecordTokenConsumed(kind string, ok bool) {
	if tokensConsumedTotal == nil {
		return
	}
	res := "inactive"
	if ok {
		res = "ok"
	}
	tokensConsumedTotal.WithLabelValues(kind, res).Inc()
}

func RecordRADIUS(request, response string) {
	if radiusPacketsTotal != nil {
		radiusPacketsTotal.WithLabelValues(request, response).Inc()
	}
}

func RecordLDAPBind(result string) {
	if ldapBindsTotal != nil {
		ldapBindsTotal.WithLabelValues(result).Inc()
	}
}

func RecordRateLimited(path string) {
	if rateLimitedTotal != nil {
		rateLimitedTotal.WithLabelValues(path).Inc()
	}
}
