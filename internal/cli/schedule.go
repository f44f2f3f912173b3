package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/r254650549/rural-demo/internal/models"
	"github.com/r254650549/rural-demo/internal/services/scheduler"
	"github.com/spf13/cobra"
)

func newScheduleCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage scheduled pipeline runs",
	}
	cmd.AddCommand(newScheduleListCmd(opts))
	cmd.AddCommand(newScheduleSetCmd(opts))
	cmd.AddCommand(newScheduleDeleteCmd(opts))
	cmd.AddCommand(newScheduleRunCmd(opts))
	return cmd
}

func newScheduleListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			jobs, err := env.Scheduler(cmd.Context(), slogSink).ListJobs()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTYPE\tCRON\tENABLED\tNEXT RUN\tLAST ERROR")
			for _, job := range jobs {
				next := "-"
				if job.NextRun != nil {
					next = *job.NextRun
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n", job.ID, job.Name, job.JobType, job.Cron, job.Enabled, next, job.LastError)
			}
			return tw.Flush()
		},
	}
}

func newScheduleSetCmd(opts *rootOptions) *cobra.Command {
	var (
		jobType  string
		cronExpr string
		timezone string
		payload  string
		disabled bool
	)

	cmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Create or update a scheduled job",
		Example: `  # Sweep new field images every night at 2 AM
  ruralctl schedule set nightly --type image_pipeline --cron "0 2 * * *" \
    --payload '{"directory":"/data/survey","only_new":true}'

  # Process the gate camera every morning
  ruralctl schedule set gate --type video_pipeline --cron "0 6 * * *" \
    --payload '{"video_path":"/data/gate.mp4","line":{"startX":0,"startY":360,"endX":1280,"endY":360}}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(payload)) {
				return fmt.Errorf("--payload must be a JSON object")
			}

			env, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			id, err := env.Scheduler(cmd.Context(), slogSink).UpsertJob(scheduler.UpsertJobRequest{
				Name:     args[0],
				JobType:  jobType,
				Cron:     cronExpr,
				Timezone: timezone,
				Enabled:  !disabled,
				Payload:  payload,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved job %s (%s)\n", args[0], id)
			return nil
		},
	}

	cmd.Flags().StringVar(&jobType, "type", models.JobTypeImagePipeline, "image_pipeline or video_pipeline")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression, 5 or 6 fields (required)")
	cmd.Flags().StringVar(&timezone, "tz", "UTC", "IANA timezone for the cron expression")
	cmd.Flags().StringVar(&payload, "payload", "", "Job payload as JSON (required)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Store the job without scheduling it")
	_ = cmd.MarkFlagRequired("cron")
	_ = cmd.MarkFlagRequired("payload")

	return cmd
}

func newScheduleDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			return env.Scheduler(cmd.Context(), slogSink).DeleteJob(args[0])
		},
	}
}

func newScheduleRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <job-id>",
		Short: "Run a scheduled job now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			if err := env.Scheduler(cmd.Context(), slogSink).RunJob(cmd.Context(), args[0]); err != nil {
				return err
			}
			slog.Info("Job finished", "job", args[0])
			return nil
		},
	}
}
