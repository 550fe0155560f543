package recovery

import (
	"strings"
	"sync"

	"github.com/tyler-smith/go-bip39"

	"github.com/dropDatabas3/vaultcore/internal/domain/types"
)

// MnemonicWords es el largo fijo de la frase: 256 bits de entropía + 8 de checksum.
const MnemonicWords = 24

var wordIndex = sync.OnceValue(func() map[string]struct{} {
	list := bip39.GetWordList()
	m := make(map[string]struct{}, len(list))
	for _, w := range list {
		m[w] = struct{}{}
	}
	return m
})

func normalizePhrase(phrase string) []string {
	return strings.Fields(strings.ToLower(phrase))
}

// ValidateRecoveryPhrase chequea, en orden, cantidad de palabras, que todas
// estén en el diccionario y el checksum. El error indica cuál falló:
// WRONG_WORD_COUNT, UNKNOWN_WORD o CHECKSUM_MISMATCH.
func ValidateRecoveryPhrase(phrase string) error {
	_, err := entropyFromPhrase(phrase)
	return err
}

func entropyFromPhrase(phrase string) ([]byte, error) {
	const op = "validate_phrase"
	words := normalizePhrase(phrase)
	if len(words) != MnemonicWords {
		return nil, types.Newf(types.CodeWrongWordCount, op, "expected %d words, got %d", MnemonicWords, len(words))
	}
	dict := wordIndex()
	for i, w := range words {
		if _, ok := dict[w]; !ok {
			return nil, types.Newf(types.CodeUnknownWord, op, "word %d is not in the wordlist", i+1)
		}
	}
	entropy, err := bip39.EntropyFromMnemonic(strings.Join(words, " "))
	if err != nil {
		return nil, types.Wrap(types.CodeChecksumMismatch, op, err)
	}
	return entropy, nil
}

// phraseFromSecret codifica el secreto raíz (32 bytes) como frase BIP-39.
func phraseFromSecret(secret []byte) (string, error) {
	return bip39.NewMnemonic(secret)
}
