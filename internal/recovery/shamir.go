package recovery

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/dropDatabas3/vaultcore/internal/domain/types"
)

// Shamir sobre GF(2^8) con el polinomio de AES (x^8+x^4+x^3+x+1). Cada byte
// del secreto es el término independiente de un polinomio de grado t-1 con
// coeficientes uniformes; t-1 puntos son compatibles con cualquier secreto.
//
// Lo que se reparte es secreto‖SHA-256(secreto)[:8]. El tag viaja repartido
// igual que el secreto, así que no filtra nada con menos de t shares, y
// permite detectar una interpolación con un umbral adulterado.

var (
	gfExp [510]byte
	gfLog [256]byte
)

func init() {
	x := byte(1)
	for i := 0; i < 255; i++ {
		gfExp[i] = x
		gfLog[x] = byte(i)
		// x *= 3
		hi := x & 0x80
		x2 := x << 1
		if hi != 0 {
			x2 ^= 0x1b
		}
		x ^= x2
	}
	for i := 255; i < len(gfExp); i++ {
		gfExp[i] = gfExp[i-255]
	}
}

func gfMul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	return gfExp[int(gfLog[a])+int(gfLog[b])]
}

func gfDiv(a, b byte) byte {
	if a == 0 {
		return 0
	}
	// b nunca es 0: los índices son distintos y no nulos.
	return gfExp[int(gfLog[a])+255-int(gfLog[b])]
}

// evalPoly evalúa por Horner; coeffs[0] es el término independiente.
func evalPoly(coeffs []byte, x byte) byte {
	var y byte
	for i := len(coeffs) - 1; i >= 0; i-- {
		y = gfMul(y, x) ^ coeffs[i]
	}
	return y
}

// MaxShares es el máximo de shares por set (índices 1..255).
const MaxShares = 255

const shareTagLen = 8

func secretTag(secret []byte) []byte {
	sum := sha256.Sum256(secret)
	return sum[:shareTagLen]
}

// Share es un punto del polinomio. Index empieza en 1.
type Share struct {
	SetID     uuid.UUID
	Threshold int
	Index     int
	Value     []byte
}

// CreateShares divide secret en n shares de umbral t.
func CreateShares(secret []byte, t, n int) ([]Share, error) {
	return createShares(rand.Reader, secret, t, n)
}

func createShares(rnd io.Reader, secret []byte, t, n int) ([]Share, error) {
	const op = "create_shares"
	switch {
	case len(secret) == 0:
		return nil, types.New(types.CodeClient, op, "empty secret")
	case t < 2:
		return nil, types.New(types.CodeClient, op, "threshold must be at least 2")
	case n < t:
		return nil, types.Newf(types.CodeClient, op, "share count %d below threshold %d", n, t)
	case n > MaxShares:
		return nil, types.Newf(types.CodeClient, op, "at most %d shares", MaxShares)
	}

	set, err := uuid.NewRandomFromReader(rnd)
	if err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	payload := make([]byte, 0, len(secret)+shareTagLen)
	payload = append(payload, secret...)
	payload = append(payload, secretTag(secret)...)
	defer clear(payload)

	shares := make([]Share, n)
	for i := range shares {
		shares[i] = Share{SetID: set, Threshold: t, Index: i + 1, Value: make([]byte, len(payload))}
	}
	coeffs := make([]byte, t)
	defer clear(coeffs)
	for b, s := range payload {
		coeffs[0] = s
		if _, err := io.ReadFull(rnd, coeffs[1:]); err != nil {
			return nil, types.Wrap(types.CodeServer, op, err)
		}
		for i := range shares {
			shares[i].Value[b] = evalPoly(coeffs, byte(i+1))
		}
	}
	return shares, nil
}

// ReconstructSecret interpola en x=0 con exactamente Threshold shares y
// comprueba el tag. Falla cerrado: ante cualquier inconsistencia no devuelve
// bytes.
func ReconstructSecret(shares []Share) ([]byte, error) {
	const op = "reconstruct_secret"
	if len(shares) == 0 {
		return nil, types.New(types.CodeInsufficientShares, op, "no shares")
	}
	first := shares[0]
	seen := make(map[int]struct{}, len(shares))
	for _, s := range shares {
		if s.Index < 1 || s.Index > MaxShares || s.Threshold < 2 || len(s.Value) <= shareTagLen {
			return nil, types.New(types.CodeMalformedShare, op, "share out of range")
		}
		if s.SetID != first.SetID {
			return nil, types.New(types.CodeMixedShareSets, op, "shares belong to different sets")
		}
		if s.Threshold != first.Threshold || len(s.Value) != len(first.Value) {
			return nil, types.New(types.CodeMalformedShare, op, "inconsistent share metadata")
		}
		if _, dup := seen[s.Index]; dup {
			return nil, types.Newf(types.CodeDuplicateShare, op, "share %d given twice", s.Index)
		}
		seen[s.Index] = struct{}{}
	}
	if len(shares) < first.Threshold {
		return nil, types.Newf(types.CodeInsufficientShares, op, "need %d shares, got %d", first.Threshold, len(shares))
	}

	pts := shares[:first.Threshold]
	payload := make([]byte, len(first.Value))
	for i, si := range pts {
		xi := byte(si.Index)
		// base de Lagrange en 0: prod x_j / (x_i ^ x_j)
		var li byte = 1
		for j, sj := range pts {
			if i == j {
				continue
			}
			xj := byte(sj.Index)
			li = gfMul(li, gfDiv(xj, xi^xj))
		}
		for b := range payload {
			payload[b] ^= gfMul(si.Value[b], li)
		}
	}
	cut := len(payload) - shareTagLen
	secret, tag := payload[:cut], payload[cut:]
	if subtle.ConstantTimeCompare(tag, secretTag(secret)) != 1 {
		clear(payload)
		return nil, types.New(types.CodeInsufficientShares, op, "shares do not reconstruct a consistent secret")
	}
	out := append([]byte(nil), secret...)
	clear(payload)
	return out, nil
}

// ─── Codificación textual ───
//
// vcs1:<hex(version|setID|threshold|index|value|checksum)>

const (
	sharePrefix  = "vcs1:"
	shareVersion = 1
	shareHeader  = 1 + 16 + 1 + 1
	shareSumLen  = 4
)

// String codifica la share para entregarla a su custodio.
func (s Share) String() string {
	b := make([]byte, 0, shareHeader+len(s.Value)+shareSumLen)
	b = append(b, shareVersion)
	b = append(b, s.SetID[:]...)
	b = append(b, byte(s.Threshold), byte(s.Index))
	b = append(b, s.Value...)
	sum := sha256.Sum256(b)
	b = append(b, sum[:shareSumLen]...)
	return sharePrefix + hex.EncodeToString(b)
}

// ParseShare decodifica y valida el checksum.
func ParseShare(str string) (Share, error) {
	const op = "parse_share"
	str = strings.TrimSpace(str)
	if !strings.HasPrefix(str, sharePrefix) {
		return Share{}, types.New(types.CodeMalformedShare, op, "unknown share format")
	}
	b, err := hex.DecodeString(str[len(sharePrefix):])
	if err != nil || len(b) <= shareHeader+shareTagLen+shareSumLen || b[0] != shareVersion {
		return Share{}, types.New(types.CodeMalformedShare, op, "undecodable share")
	}
	body, sum := b[:len(b)-shareSumLen], b[len(b)-shareSumLen:]
	want := sha256.Sum256(body)
	if subtle.ConstantTimeCompare(sum, want[:shareSumLen]) != 1 {
		return Share{}, types.New(types.CodeMalformedShare, op, "share checksum mismatch")
	}
	var set uuid.UUID
	copy(set[:], body[1:17])
	s := Share{
		SetID:     set,
		Threshold: int(body[17]),
		Index:     int(body[18]),
		Value:     append([]byte(nil), body[shareHeader:]...),
	}
	if s.Index == 0 || s.Threshold < 2 {
		return Share{}, types.New(types.CodeMalformedShare, op, "share out of range")
	}
	return s, nil
}

// ParseShares decodifica una lista; el primer error corta.
func ParseShares(in []string) ([]Share, error) {
	out := make([]Share, 0, len(in))
	for _, s := range in {
		sh, err := ParseShare(s)
		if err != nil {
			return nil, err
		}
		out = append(out, sh)
	}
	return out, nil
}
