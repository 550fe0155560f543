package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/vaultcore/internal/opaque"
	"github.com/dropDatabas3/vaultcore/internal/security/secretbox"
	"github.com/dropDatabas3/vaultcore/internal/util/atomicwrite"
)

// generatedKeys arma el bloque .env con claves nuevas.
func generatedKeys() (string, error) {
	master, err := secretbox.GenerateKey()
	if err != nil {
		return "", err
	}
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return "", err
	}
	priv, _, err := opaque.GenerateServerKey()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "VAULT_MASTER_KEY=%s\n", master)
	fmt.Fprintf(&b, "VAULT_SIGNING_KEY=%s\n", base64.StdEncoding.EncodeToString(seed))
	fmt.Fprintf(&b, "VAULT_OPAQUE_SERVER_KEY=%s\n", base64.StdEncoding.EncodeToString(priv))
	return b.String(), nil
}

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "keys", Short: "Material de claves del servidor"}

	var (
		out   string
		force bool
	)
	gen := &cobra.Command{
		Use:   "gen",
		Short: "Genera master key, signing key y clave OPAQUE del servidor",
		Long: "Genera claves nuevas en formato .env. Con --out se escriben de forma atómica " +
			"con permisos 0600 y sin pisar un archivo existente salvo --force; sin --out se imprimen.",
		RunE: func(cmd *cobra.Command, args []string) error {
			envBlock, err := generatedKeys()
			if err != nil {
				return err
			}
			if out == "" {
				cmd.Print(envBlock)
				return nil
			}
			if err := atomicwrite.WriteSecret(out, []byte(envBlock), force); err != nil {
				return err
			}
			color.Green("keys written to %s", out)
			color.Yellow("rotating VAULT_MASTER_KEY makes existing OPAQUE records unreadable")
			return nil
		},
	}
	gen.Flags().StringVar(&out, "out", "", "archivo destino (ej. .env.keys)")
	gen.Flags().BoolVar(&force, "force", false, "reemplaza --out si ya existe")
	cmd.AddCommand(gen)
	return cmd
}
