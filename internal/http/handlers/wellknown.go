package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/dropDatabas3/idcore/internal/http/errors"
	"github.com/dropDatabas3/idcore/internal/oauth"
	"github.com/dropDatabas3/idcore/internal/observability/logger"
)

// JWKSSource es lo que el handler necesita del issuer.
type JWKSSource interface {
	JWKSJSON(ctx context.Context) ([]byte, error)
}

type WellKnownHandler struct {
	override string
	jwks     JWKSSource
}

// NewWellKnownHandler: con override vacío el issuer del discovery sale del
// origen de cada request.
func NewWellKnownHandler(override string, jwks JWKSSource) *WellKnownHandler {
	return &WellKnownHandler{override: strings.TrimRight(strings.TrimSpace(override), "/"), jwks: jwks}
}

// Discovery maneja GET /.well-known/openid-configuration
func (h *WellKnownHandler) Discovery(w http.ResponseWriter, r *http.Request) {
	issuer := h.override
	if issuer == "" {
		issuer = requestOrigin(r)
	}
	WriteJSON(w, http.StatusOK, oauth.Discovery(issuer))
}

// requestOrigin arma scheme://host del request, respetando X-Forwarded-Proto
// y X-Forwarded-Host (primer valor si vienen encadenados por proxies).
func requestOrigin(r *http.Request) string {
	host := r.Host
	if fh := firstHeaderValue(r, "X-Forwarded-Host"); fh != "" {
		host = fh
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		scheme = "https"
		if r.TLS == nil && (strings.HasPrefix(host, "localhost") || strings.HasPrefix(host, "127.0.0.1")) {
			scheme = "http"
		}
	}
	if proto := firstHeaderValue(r, "X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(proto)
	}
	return scheme + "://" + host
}

func firstHeaderValue(r *http.Request, name string) string {
	v, _, _ := strings.Cut(r.Header.Get(name), ",")
	return strings.TrimSpace(v)
}

// JWKS maneja GET /.well-known/jwks.json
func (h *WellKnownHandler) JWKS(w http.ResponseWriter, r *http.Request) {
	data, err := h.jwks.JWKSJSON(r.Context())
	if err != nil {
		logger.From(r.Context()).Error("failed to build JWKS", logger.Err(err))
		errors.WriteError(w, errors.ErrServiceUnavailable.WithCause(err))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
