package cli

import (
	"log/slog"

	"github.com/spf13/cobra"
)

func newDaemonCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run scheduled jobs until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			svc := env.Scheduler(cmd.Context(), slogSink)
			if err := svc.Start(); err != nil {
				return err
			}
			slog.Info("Scheduler running", "server", env.Client().BaseURL(), "owner", env.Ledger().Owner())

			<-cmd.Context().Done()
			slog.Info("Shutting down scheduler...")
			svc.Stop()
			slog.Info("Scheduler stopped")
			return nil
		},
	}
}
