package util

import "strings"

// MaskEmail deja la primera letra del usuario y del primer label del dominio.
func MaskEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	i := strings.IndexByte(s, '@')
	if i <= 0 {
		return MaskIdentifier(s)
	}
	user, dom := s[:i], s[i+1:]
	if len(user) > 1 {
		user = user[:1] + "…"
	}
	dparts := strings.Split(dom, ".")
	if len(dparts) > 0 && len(dparts[0]) > 1 {
		dparts[0] = dparts[0][:1] + "…"
	}
	return user + "@" + strings.Join(dparts, ".")
}

// MaskIdentifier enmascara un login que puede ser email, username o DN.
func MaskIdentifier(s string) string {
	s = strings.TrimSpace(s)
	if strings.IndexByte(s, '@') > 0 {
		return MaskEmail(s)
	}
	if s == "" {
		return ""
	}
	r := []rune(s)
	if len(r) <= 3 {
		return "***"
	}
	return string(r[:1]) + "…" + string(r[len(r)-1:])
}
