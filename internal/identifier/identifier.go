// Package identifier traduce identificadores de login (user, user@realm, DN LDAP)
// a (username, tenant). Funciones puras: nunca fallan, un segmento de tenant
// ilegible cae en silencio al tenant por defecto.
package identifier

import (
	"strings"

	"github.com/google/uuid"
)

// Resolve parsea "user" o "user@<tenant-id>".
// Si el sufijo no es un tenant id válido se devuelve el identificador entero.
func Resolve(raw, defaultTenant string) (username, tenant string) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", defaultTenant
	}
	if at := strings.LastIndex(s, "@"); at > 0 {
		if id, ok := ParseTenantID(s[at+1:]); ok {
			return s[:at], id
		}
	}
	return s, defaultTenant
}

// SplitRealm separa "user@realm" sin validar el realm. ok=false si no hay realm.
func SplitRealm(raw string) (user, realm string, ok bool) {
	s := strings.TrimSpace(raw)
	at := strings.LastIndex(s, "@")
	if at <= 0 || at == len(s)-1 {
		return s, "", false
	}
	return s[:at], s[at+1:], true
}

// ResolveDN parsea un bind DN: "cn=john,ou=<tenant-id>,dc=example,dc=com".
// El primer cn= gana sobre uid=; el primer ou= que sea tenant id válido fija el tenant.
// Sin cn/uid devuelve el DN normalizado entero como username.
func ResolveDN(dn, defaultTenant string) (username, tenant string) {
	s := strings.TrimSpace(dn)
	if s == "" {
		return "", defaultTenant
	}
	tenant = defaultTenant
	var cn, uid string
	var haveCN, haveUID, haveOU bool
	for _, rdn := range strings.Split(s, ",") {
		attr, val, ok := strings.Cut(rdn, "=")
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)
		switch strings.ToLower(strings.TrimSpace(attr)) {
		case "cn":
			if !haveCN {
				cn, haveCN = val, true
			}
		case "uid":
			if !haveUID {
				uid, haveUID = val, true
			}
		case "ou":
			if !haveOU {
				if id, ok := ParseTenantID(val); ok {
					tenant, haveOU = id, true
				}
			}
		}
	}
	switch {
	case haveCN:
		return cn, tenant
	case haveUID:
		return uid, tenant
	}
	return s, tenant
}

// ParseTenantID acepta un UUID y lo devuelve en forma canónica.
func ParseTenantID(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return "", false
	}
	return id.String(), true
}
