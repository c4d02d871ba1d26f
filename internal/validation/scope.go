package validation

import (
	"regexp"
	"strings"
)

// Reglas de nombre de scope:
// - Solo minúsculas.
// - Empieza y termina con [a-z0-9].
// - En el medio se permite [a-z0-9:_.-].
// - Largo 1..64.
//
// Válidos: openid, profile:read, a_b-c.d:scope2
// Inválidos: ;hack, BAD, "bad space", :leader, trailer:, "", 65+ chars.
var scopeNameRe = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9:_\.-]{0,62}[a-z0-9])?$`)

const MaxScopes = 32

// ValidScopeName reporta si name cumple el patrón permitido.
func ValidScopeName(name string) bool {
	return scopeNameRe.MatchString(name)
}

// NormalizeScope parte un scope OAuth2 (separado por espacios), valida cada
// nombre y elimina duplicados conservando el orden. Vacío es válido.
func NormalizeScope(raw string) (string, bool) {
	fields := strings.Fields(raw)
	if len(fields) > MaxScopes {
		return "", false
	}
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !ValidScopeName(f) {
			return "", false
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return strings.Join(out, " "), true
}
