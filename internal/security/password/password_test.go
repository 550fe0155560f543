package password

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashVerify(t *testing.T) {
	h, err := Hash(Fast, "ABCD-EFGH-JKLM")
	require.NoError(t, err)

	ok, err := Verify("ABCD-EFGH-JKLM", h)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify("ABCD-EFGH-JKLX", h)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_Malformed(t *testing.T) {
	for _, in := range []string{"", "plain", "$argon2id$v=19$m=1$x$y", "$bcrypt$v=19$m=1,t=1,p=1$AA$AA"} {
		_, err := Verify("x", in)
		assert.True(t, errors.Is(err, ErrMalformedHash), in)
	}
}

func TestHash_Empty(t *testing.T) {
	_, err := Hash(Fast, "")
	assert.Error(t, err)
}

func TestPolicy(t *testing.T) {
	ok, reasons := Policy{MinLength: 10, MinClasses: 3}.Validate("short")
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{"too_short", "few_classes"}, reasons)

	ok, reasons = DefaultPolicy.Validate("aaaaaaaaaaaa")
	assert.False(t, ok)
	assert.Equal(t, []string{"single_char"}, reasons)

	ok, reasons = DefaultPolicy.Validate("            ")
	assert.False(t, ok)
	assert.Contains(t, reasons, "blank")

	ok, _ = Policy{MinLength: 10, MinClasses: 2}.Validate("correct horse")
	assert.True(t, ok)
	ok, _ = DefaultPolicy.Validate("correct horse")
	assert.True(t, ok)
}
