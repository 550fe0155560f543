// Package util tiene helpers chicos sin dependencias.
package util

import "strings"

// MaskEmail deja sólo la primera letra del usuario y del dominio:
// "alice@example.com" -> "a…@e….com".
func MaskEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	i := strings.IndexByte(s, '@')
	if i <= 0 {
		if s == "" {
			return ""
		}
		if len(s) <= 3 {
			return "***"
		}
		return s[:1] + "…" + s[len(s)-1:]
	}
	user, dom := s[:i], s[i+1:]
	if len(user) > 1 {
		user = user[:1] + "…"
	}
	parts := strings.Split(dom, ".")
	if len(parts[0]) > 1 {
		parts[0] = parts[0][:1] + "…"
	}
	return user + "@" + strings.Join(parts, ".")
}

// MaskEmails enmascara una lista de destinatarios para logs.
func MaskEmails(list []string) string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if m := MaskEmail(s); m != "" {
			out = append(out, m)
		}
	}
	return strings.Join(out, ",")
}
