package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
)

func auditCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "audit", Short: "Operaciones sobre la cadena de auditoría"}

	var userID string
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Verifica la integridad de la cadena de un usuario",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user es requerido")
			}
			a, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			v, err := a.Audit.VerifyChainIntegrity(cmd.Context(), userID)
			if err != nil {
				return err
			}
			if v.Valid {
				color.Green("chain OK (%d events)", v.Checked)
				return nil
			}
			color.Red("chain BROKEN at seq %d: %s", v.BrokenAt, v.Reason)
			return fmt.Errorf("audit chain tampered")
		},
	}
	verify.Flags().StringVar(&userID, "user", "", "user id")
	cmd.AddCommand(verify)
	return cmd
}

func devicesCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "devices", Short: "Registro de dispositivos"}

	var userID string
	list := &cobra.Command{
		Use:   "list",
		Short: "Lista los dispositivos de un usuario",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user es requerido")
			}
			a, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			ds, err := a.Devices.ListDevices(cmd.Context(), userID)
			if err != nil {
				return err
			}
			renderDevices(ds)
			return nil
		},
	}
	list.Flags().StringVar(&userID, "user", "", "user id")
	cmd.AddCommand(list)
	return cmd
}

func recoveryCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "recovery", Short: "Estado de recuperación de una cuenta"}

	var userID string
	status := &cobra.Command{
		Use:   "status",
		Short: "Muestra material, backups y throttle de un usuario",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user es requerido")
			}
			a, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			st, err := a.Recovery.Status(cmd.Context(), userID)
			if err != nil {
				return err
			}
			fmt.Printf("set %s  level %s  %d-of-%d  backups %d\n", st.SetID, st.Level, st.Threshold, st.ShareCount, st.Backups)
			if st.Locked {
				color.Red("locked: %d/%d attempts, retry in %ds", st.Attempts, st.MaxAttempts, st.RetryAfterSeconds)
			} else {
				color.Green("attempts %d/%d", st.Attempts, st.MaxAttempts)
			}
			return nil
		},
	}

	unlock := &cobra.Command{
		Use:   "unlock",
		Short: "Limpia el contador de intentos de recuperación",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user es requerido")
			}
			a, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Recovery.ResetAttempts(cmd.Context(), userID); err != nil {
				return err
			}
			color.Green("recovery attempts reset for %s", userID)
			return nil
		},
	}

	backups := &cobra.Command{
		Use:   "backups",
		Short: "Lista los backups de claves de un usuario",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user es requerido")
			}
			a, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			list, err := a.Recovery.ListBackups(cmd.Context(), userID)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				color.Yellow("no backups")
				return nil
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "Device", "Label", "Current", "Created"})
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetBorder(false)
			for _, b := range list {
				table.Append([]string{b.ID, b.DeviceID, b.Label, strconv.FormatBool(b.Current), b.CreatedAt.Format(time.RFC3339)})
			}
			table.Render()
			return nil
		},
	}

	for _, c := range []*cobra.Command{status, unlock, backups} {
		c.Flags().StringVar(&userID, "user", "", "user id")
		cmd.AddCommand(c)
	}
	return cmd
}

func renderDevices(ds []repository.Device) {
	if len(ds) == 0 {
		color.Yellow("no devices")
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Name", "Type", "State", "Score", "Last sync"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	for _, d := range ds {
		last := "-"
		if !d.LastSyncAt.IsZero() {
			last = d.LastSyncAt.Format(time.RFC3339)
		}
		table.Append([]string{
			d.ID, d.Name, d.Type, stateLabel(d.TrustState),
			strconv.FormatFloat(d.TrustScore, 'f', 2, 64), last,
		})
	}
	table.Render()
}

func stateLabel(s repository.TrustState) string {
	switch s {
	case repository.TrustTrusted:
		return color.GreenString(string(s))
	case repository.TrustRevoked, repository.TrustExpired:
		return color.RedString(string(s))
	default:
		return color.YellowString(string(s))
	}
}
