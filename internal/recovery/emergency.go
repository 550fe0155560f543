package recovery

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// 80 bits → 16 caracteres base32, agrupados de a 4.
const emergencyCodeBytes = 10

var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

func formatCode(raw []byte) string {
	s := codeEncoding.EncodeToString(raw)
	var b strings.Builder
	for i := 0; i < len(s); i += 4 {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(s[i:min(i+4, len(s))])
	}
	return b.String()
}

// normalizeCode tolera minúsculas, espacios y guiones.
func normalizeCode(code string) string {
	r := strings.NewReplacer("-", "", " ", "", "\t", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(code)))
}

// deriveEmergencyCode deriva el código inicial del secreto raíz. HKDF es de
// una vía: conocer el código no dice nada del secreto.
func deriveEmergencyCode(secret []byte, setID string) (string, error) {
	raw := make([]byte, emergencyCodeBytes)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, []byte(setID), []byte("vaultcore/emergency-code/v1")), raw); err != nil {
		return "", err
	}
	return formatCode(raw), nil
}

func randomEmergencyCode() (string, error) {
	raw := make([]byte, emergencyCodeBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return formatCode(raw), nil
}
