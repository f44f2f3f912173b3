package cli

import (
	"github.com/r254650549/rural-demo/internal/services/workflow"
	"github.com/spf13/cobra"
)

func newResumeCmd(opts *rootOptions) *cobra.Command {
	var (
		stitch     bool
		extract    bool
		parameters string
		asJSON     bool
		extraction extractionFlags
	)

	cmd := &cobra.Command{
		Use:   "resume <entry-id>",
		Short: "Continue a workflow from a history entry",
		Long: `Restores the batch and results referenced by a history entry into a new
session, after checking the server still has the artifacts, and optionally
carries the workflow on from there.`,
		Example: `  # Re-extract with feature extraction from an earlier stitch
  ruralctl resume 6f1c... --extract --extraction-type features`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			entry, err := env.Ledger().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			wf := env.NewSession(cmd.Context(), slogSink)
			if err := wf.ResumeFromHistory(cmd.Context(), entry); err != nil {
				return err
			}

			if stitch {
				task, err := wf.SubmitStitch(workflow.StitchOptions{TaskName: extraction.taskName, Parameters: parameters})
				if err == nil {
					err = wf.Await(cmd.Context(), task)
				}
				if err != nil {
					return err
				}
			}
			if extract {
				task, err := wf.SubmitExtraction(extraction.params())
				if err == nil {
					err = wf.Await(cmd.Context(), task)
				}
				if err != nil {
					return err
				}
			}
			return printSnapshot(cmd.OutOrStdout(), wf.Snapshot(), asJSON)
		},
	}

	cmd.Flags().BoolVar(&stitch, "stitch", false, "Stitch the restored batch again")
	cmd.Flags().BoolVar(&extract, "extract", false, "Extract targets from the restored image")
	cmd.Flags().StringVar(&parameters, "params", "", "Algorithm parameters for stitching")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the final snapshot as JSON")
	extraction.register(cmd)

	return cmd
}
