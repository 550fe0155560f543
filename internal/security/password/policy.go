package password

import (
	"strings"
	"unicode"
)

// Policy se aplica del lado cliente antes de un registro OPAQUE: el servidor
// nunca recibe el secreto y no puede validarlo.
type Policy struct {
	MinLength  int // en runas
	MaxLength  int // 0 = sin tope
	MinClasses int // mayúsculas, minúsculas, dígitos, símbolos, espacios
}

// DefaultPolicy favorece passphrases largas sobre reglas de composición.
var DefaultPolicy = Policy{MinLength: 10, MaxLength: 1024}

// Validate devuelve los motivos de rechazo; vacío si la passphrase sirve.
func (p Policy) Validate(s string) (ok bool, reasons []string) {
	n := len([]rune(s))
	if n < p.MinLength {
		reasons = append(reasons, "too_short")
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		reasons = append(reasons, "too_long")
	}
	if strings.TrimSpace(s) == "" {
		return false, append(reasons, "blank")
	}
	if n > 1 && strings.Count(s, string([]rune(s)[0])) == n {
		reasons = append(reasons, "single_char")
	}
	if p.MinClasses > 0 && classes(s) < p.MinClasses {
		reasons = append(reasons, "few_classes")
	}
	return len(reasons) == 0, reasons
}

func classes(s string) int {
	var seen [5]bool
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			seen[0] = true
		case unicode.IsLower(r):
			seen[1] = true
		case unicode.IsDigit(r):
			seen[2] = true
		case unicode.IsSpace(r):
			seen[4] = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			seen[3] = true
		}
	}
	n := 0
	for _, b := range seen {
		if b {
			n++
		}
	}
	return n
}
