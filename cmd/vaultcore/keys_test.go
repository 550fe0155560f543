package main

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/vaultcore/internal/jwt"
	"github.com/dropDatabas3/vaultcore/internal/opaque"
	"github.com/dropDatabas3/vaultcore/internal/security/secretbox"
)

func TestGeneratedKeysAreUsable(t *testing.T) {
	block, err := generatedKeys()
	require.NoError(t, err)

	kv := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(block), "\n") {
		k, v, ok := strings.Cut(line, "=")
		require.True(t, ok, line)
		kv[k] = v
	}

	_, err = secretbox.ParseKey(kv["VAULT_MASTER_KEY"])
	require.NoError(t, err)
	_, err = jwt.ParseSeed(kv["VAULT_SIGNING_KEY"])
	require.NoError(t, err)

	priv, err := base64.StdEncoding.DecodeString(kv["VAULT_OPAQUE_SERVER_KEY"])
	require.NoError(t, err)
	_, err = opaque.NewBackend(opaque.BackendConfig{ServerKey: priv})
	require.NoError(t, err)
}
