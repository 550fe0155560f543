package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateOpaqueToken(t *testing.T) {
	a, err := GenerateOpaqueToken(32)
	require.NoError(t, err)
	b, err := GenerateOpaqueToken(32)
	require.NoError(t, err)
	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
}

func TestHashes(t *testing.T) {
	assert.Equal(t, SHA256Base64URL("x"), SHA256Base64URL("x"))
	assert.NotEqual(t, SHA256Base64URL("x"), SHA256Base64URL("y"))
	assert.Len(t, SHA256Hex([]byte("x")), 64)
	assert.True(t, Equal("abc", "abc"))
	assert.False(t, Equal("abc", "abd"))
}
