package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
)

// sensitiveKey matchea nombres de campo que nunca se persisten.
var sensitiveKey = regexp.MustCompile(`(?i)(pass(word|phrase)?|pwd|secret|token|mnemonic|phrase|(^|_)shares?$|(^|_)code$|otp|(^|_)pin$|e-?mail|phone|^ip$|_ip$|ip_?addr|remote_?addr|private|priv_?key|export_?key|session_?(key|id)|seed|entropy|ssn)`)

// sensitiveValue matchea valores que delatan PII aunque la key sea inocente.
var sensitiveValue = []*regexp.Regexp{
	regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),          // email
	regexp.MustCompile(`^\+?[0-9][0-9 ()\-]{7,}[0-9]$`),                              // teléfono
	regexp.MustCompile(`^(25[0-5]|2[0-4]\d|1?\d?\d)(\.(25[0-5]|2[0-4]\d|1?\d?\d)){3}$`), // IPv4
}

// Scrub devuelve una copia de details sin campos sensibles y la lista
// ordenada de rutas removidas ("a.b" para mapas anidados).
func Scrub(details map[string]any) (map[string]any, []string) {
	var removed []string
	out := scrubMap("", details, &removed)
	sort.Strings(removed)
	return out, removed
}

func scrubMap(prefix string, in map[string]any, removed *[]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if sensitiveKey.MatchString(k) {
			*removed = append(*removed, path)
			continue
		}
		switch tv := v.(type) {
		case map[string]any:
			out[k] = scrubMap(path, tv, removed)
		case string:
			if looksSensitive(tv) {
				*removed = append(*removed, path)
				continue
			}
			out[k] = tv
		case []string:
			clean := make([]string, 0, len(tv))
			for _, s := range tv {
				if !looksSensitive(s) {
					clean = append(clean, s)
				}
			}
			if len(clean) != len(tv) {
				*removed = append(*removed, path)
			}
			out[k] = clean
		default:
			out[k] = v
		}
	}
	return out
}

func looksSensitive(s string) bool {
	s = strings.TrimSpace(s)
	for _, re := range sensitiveValue {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// Pseudonymize retorna HMAC-SHA256(key, userID) truncado. Sin key devuelve
// el id tal cual.
func Pseudonymize(key []byte, userID string) string {
	if len(key) == 0 || userID == "" {
		return userID
	}
	m := hmac.New(sha256.New, key)
	m.Write([]byte(userID))
	return "p_" + hex.EncodeToString(m.Sum(nil))[:32]
}
