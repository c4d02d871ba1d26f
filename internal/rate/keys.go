package rate

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extrae la IP del cliente, considerando proxies.
func ClientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

// IPPathKey separa límites por endpoint (token vs register) sin leer el body.
func IPPathKey(r *http.Request) string {
	return ClientIP(r) + "|" + r.URL.Path
}

// IPOnlyKey agrupa todos los endpoints de una IP.
func IPOnlyKey(r *http.Request) string {
	return ClientIP(r)
}
