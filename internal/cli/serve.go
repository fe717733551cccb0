package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/memorykit/internal/httpapi"
)

func (e *env) newServeCmd() *cobra.Command {
	var addr, schedule string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: "serve exposes ingest, query, settings, schema and diff review over HTTP\n" +
			"and completes interrupted diff applies on a schedule.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = e.v.GetString(cfgKeyServerAddr)
			}
			if schedule == "" {
				schedule = e.v.GetString(cfgKeyRecovery)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := e.openApp(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.StartRecovery(ctx, schedule)
			if err != nil {
				return userError(err)
			}
			defer rec.Stop()

			if err := httpapi.NewServer(a).Run(ctx, addr); err != nil {
				return sysError(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr)")
	cmd.Flags().StringVar(&schedule, "recovery-schedule", "", "cron schedule for diff recovery (default: recovery.schedule)")
	return cmd
}
