package tenancy

import (
	"context"
	"strings"
	"time"

	"github.com/dropDatabas3/idcore/internal/cache"
	"github.com/dropDatabas3/idcore/internal/domain/repository"
	"github.com/dropDatabas3/idcore/internal/observability/logger"
)

const (
	DefaultResolverTTL = 30 * time.Second
	cachePrefix        = "tenant-domain:"
	negative           = "-"
)

// DomainResolver deduce el tenant implícito de un email a partir de los
// dominios registrados. Gana el match más específico (más labels).
type DomainResolver struct {
	domains repository.DomainRepository
	cache   cache.Client
	ttl     time.Duration
}

type ResolverOption func(*DomainResolver)

// WithCache pone un cache delante de la tabla de dominios. Los negativos
// también se cachean, por eso el TTL debe ser corto.
func WithCache(c cache.Client, ttl time.Duration) ResolverOption {
	return func(r *DomainResolver) {
		r.cache = c
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

func NewDomainResolver(domains repository.DomainRepository, opts ...ResolverOption) *DomainResolver {
	r := &DomainResolver{domains: domains, ttl: DefaultResolverTTL}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ResolveTenant nunca falla: email vacío, mal formado, dominio no registrado o
// inactivo, o un error del store => ok=false.
func (r *DomainResolver) ResolveTenant(ctx context.Context, email string) (tenantID string, ok bool) {
	domain, valid := EmailDomain(email)
	if !valid {
		return "", false
	}
	if r.cache != nil {
		if v, err := r.cache.Get(ctx, cachePrefix+domain); err == nil {
			if v == negative {
				return "", false
			}
			return v, true
		}
	}

	tenantID, ok, cacheable := r.lookup(ctx, domain)
	if r.cache != nil && cacheable {
		v := tenantID
		if !ok {
			v = negative
		}
		_ = r.cache.Set(ctx, cachePrefix+domain, v, r.ttl)
	}
	return tenantID, ok
}

func (r *DomainResolver) lookup(ctx context.Context, domain string) (tenantID string, ok, cacheable bool) {
	rows, err := r.domains.FindActive(ctx, Candidates(domain))
	if err != nil {
		logger.From(ctx).Warn("tenant domain lookup failed", logger.String("domain", domain), logger.Err(err))
		return "", false, false
	}
	best := -1
	tied := false
	for _, d := range rows {
		if !d.Active {
			continue
		}
		n := labels(d.Domain)
		switch {
		case n > best:
			best, tenantID, tied = n, d.TenantID, false
		case n == best && d.TenantID != tenantID:
			tied = true
		}
	}
	if best < 0 {
		return "", false, true
	}
	// empate entre tenants distintos: sin regla definida, no se adivina
	if tied {
		logger.From(ctx).Warn("ambiguous tenant domain match", logger.String("domain", domain))
		return "", false, true
	}
	return tenantID, true, true
}

// EmailDomain extrae el dominio normalizado de un email. Requiere exactamente
// un "@" con parte local no vacía y un dominio sin labels vacíos.
func EmailDomain(email string) (string, bool) {
	s := strings.TrimSpace(email)
	at := strings.IndexByte(s, '@')
	if at <= 0 || strings.Count(s, "@") != 1 {
		return "", false
	}
	d, ok := NormalizeDomain(s[at+1:])
	return d, ok
}

// NormalizeDomain baja a minúsculas, recorta y valida labels.
func NormalizeDomain(raw string) (string, bool) {
	d := strings.ToLower(strings.TrimSpace(raw))
	if d == "" || strings.ContainsAny(d, " \t@/") {
		return "", false
	}
	for _, l := range strings.Split(d, ".") {
		if l == "" {
			return "", false
		}
	}
	return d, true
}

// Candidates: "a.b.c" => ["a.b.c", "b.c", "c"].
func Candidates(domain string) []string {
	out := []string{domain}
	for i := 0; i < len(domain); i++ {
		if domain[i] == '.' {
			out = append(out, domain[i+1:])
		}
	}
	return out
}

func labels(d string) int { return strings.Count(d, ".") + 1 }
