// Package cli implements ruralctl, the headless front end of the workflow.
package cli

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/r254650549/rural-demo/internal/config"
	"github.com/r254650549/rural-demo/internal/services/workflow"
	"github.com/r254650549/rural-demo/internal/session"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	profile    string
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "ruralctl",
		Short: "Upload, stitch and extract targets from rural survey imagery",
		Long: `ruralctl drives the imagery processing server from the command line.

It uploads images or videos, stitches ground image batches, extracts targets,
keeps a process history per operator and runs scheduled pipelines.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
			setupLogging(os.Getenv("LOG_LEVEL"))
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("RURAL_CONFIG"), "Path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.profile, "profile", "", "Server profile to use (overrides RURAL_PROFILE)")

	cmd.AddCommand(newProfileCmd(opts))
	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newVideoCmd(opts))
	cmd.AddCommand(newHistoryCmd(opts))
	cmd.AddCommand(newResumeCmd(opts))
	cmd.AddCommand(newScheduleCmd(opts))
	cmd.AddCommand(newDaemonCmd(opts))

	return cmd
}

func setupLogging(level string) {
	var l slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		l = slog.LevelDebug
	case "WARN", "WARNING":
		l = slog.LevelWarn
	case "ERROR":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

// open loads configuration and the shared environment for one command
func (o *rootOptions) open(ctx context.Context) (*session.Env, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.profile != "" {
		cfg.Profile = o.profile
	}
	return session.Open(ctx, cfg)
}

// slogSink reports workflow notifications as structured log lines
var slogSink = workflow.SinkFunc(func(n workflow.Notification) {
	level := slog.LevelInfo
	switch n.Kind {
	case workflow.NotifyWarning:
		level = slog.LevelWarn
	case workflow.NotifyError:
		level = slog.LevelError
	}
	slog.Log(context.Background(), level, n.Message, "kind", n.Kind, "stage", n.Stage, "session", n.SessionID)
})
