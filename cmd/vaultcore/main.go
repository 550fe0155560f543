// Command vaultcore corre el servidor y las tareas operativas.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/vaultcore/internal/app"
	"github.com/dropDatabas3/vaultcore/internal/config"
	"github.com/dropDatabas3/vaultcore/internal/observability/logger"
)

var version = "dev"

type globals struct {
	configPath string
	envFile    string
}

func (g *globals) load() (*config.Config, error) {
	if g.envFile != "" {
		_ = godotenv.Load(g.envFile)
	}
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Config{
		Env:         cfg.Log.Env,
		Level:       cfg.Log.Level,
		ServiceName: cfg.App.Name,
		Version:     version,
	})
	return cfg, nil
}

// open carga config y arma la app completa.
func (g *globals) open(ctx context.Context) (*app.App, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, version)
}

func main() {
	g := &globals{}
	root := &cobra.Command{
		Use:           "vaultcore",
		Short:         "Autenticación sin contraseñas en el servidor: OPAQUE, dispositivos y recuperación",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", os.Getenv("VAULT_CONFIG"), "ruta a config.yaml (env VAULT_CONFIG)")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "ruta a .env (se ignora si no existe)")

	root.AddCommand(
		serveCmd(g),
		sweepCmd(g),
		auditCmd(g),
		devicesCmd(g),
		recoveryCmd(g),
		keysCmd(),
		mnemonicCmd(),
		registerCmd(),
		loginCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
