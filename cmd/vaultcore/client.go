package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/vaultcore/internal/http/client"
	"github.com/dropDatabas3/vaultcore/internal/opaque"
	"github.com/dropDatabas3/vaultcore/internal/recovery"
	"github.com/dropDatabas3/vaultcore/internal/security/password"
)

type remote struct {
	url       string
	backend   string
	allowMock bool
	username  string
	password  string
}

func (r *remote) flags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&r.url, "url", envOr("VAULT_URL", "http://localhost:8080"), "URL del servidor (env VAULT_URL)")
	cmd.Flags().StringVar(&r.backend, "backend", opaque.BackendGopaque, "backend OPAQUE: gopaque|mock")
	cmd.Flags().BoolVar(&r.allowMock, "allow-insecure-mock", false, "permite --backend=mock")
	cmd.Flags().StringVar(&r.username, "user", "", "username")
	cmd.Flags().StringVar(&r.password, "password", "", "password (env VAULT_PASSWORD)")
}

func (r *remote) setup() (*opaque.Client, *client.Client, error) {
	if r.username == "" {
		return nil, nil, fmt.Errorf("--user es requerido")
	}
	if r.password == "" {
		r.password = os.Getenv("VAULT_PASSWORD")
	}
	if r.password == "" {
		return nil, nil, fmt.Errorf("falta password (--password o env VAULT_PASSWORD)")
	}
	b, err := opaque.NewClientBackend(r.backend, r.allowMock)
	if err != nil {
		return nil, nil, err
	}
	return opaque.NewClient(b, opaque.ClientConfig{Policy: &password.DefaultPolicy}), client.New(r.url, 15*time.Second), nil
}

func registerCmd() *cobra.Command {
	r := &remote{}
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Registra un usuario por OPAQUE contra un servidor",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, tr, err := r.setup()
			if err != nil {
				return err
			}
			userID, _, err := c.Register(cmd.Context(), c.NewFlow(opaque.KindRegistration), tr, r.username, r.password)
			if err != nil {
				return err
			}
			color.Green("registered %s (user id %s)", r.username, userID)
			return nil
		},
	}
	r.flags(cmd)
	return cmd
}

func loginCmd() *cobra.Command {
	r := &remote{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Autentica por OPAQUE e imprime el session id",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, tr, err := r.setup()
			if err != nil {
				return err
			}
			res, err := c.Login(cmd.Context(), c.NewFlow(opaque.KindAuthentication), tr, r.username, r.password)
			if err != nil {
				return err
			}
			clear(res.SessionKey)
			clear(res.ExportKey)
			cmd.Printf("session_id=%s\nexpires_at=%s\n", res.SessionID, res.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
	r.flags(cmd)
	return cmd
}

func mnemonicCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "mnemonic", Short: "Frases de recuperación"}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <palabras...>",
		Short: "Valida cantidad de palabras, diccionario y checksum de una frase",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := recovery.ValidateRecoveryPhrase(strings.Join(args, " ")); err != nil {
				color.Red("invalid: %v", err)
				return err
			}
			color.Green("phrase OK")
			return nil
		},
	})
	return cmd
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
