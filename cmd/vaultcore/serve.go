package main

import (
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/vaultcore/internal/observability/logger"
)

func serveCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Levanta la API HTTP y las tareas de limpieza",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			logger.Named("main").Info("vaultcore starting",
				logger.String("addr", a.Config.Server.Addr),
				logger.String("storage", a.Conn.Name()),
				logger.Backend(a.Backend.Name()),
			)
			return a.Run(cmd.Context())
		},
	}
}

func sweepCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Borra sesiones vencidas y expira dispositivos sin sync (una pasada)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.Sweep(cmd.Context())
			cmd.Printf("sessions removed: %d\ndevices expired:  %d\n", res.Sessions, res.Devices)
			return err
		},
	}
}
