package cli

import (
	"fmt"
	"os"

	"github.com/r254650549/rural-demo/internal/auth"
	"github.com/spf13/cobra"
)

func newProfileCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage server profiles",
	}
	cmd.AddCommand(newProfileSetCmd(opts))
	cmd.AddCommand(newProfileShowCmd(opts))
	return cmd
}

func newProfileSetCmd(opts *rootOptions) *cobra.Command {
	var baseURL, username, token string

	cmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Create or update a server profile",
		Long: `Stores the server URL, the operator's username and an encrypted bearer token.

The token is read from --token or, when omitted, from RURAL_API_TOKEN. Updating
a profile without a token keeps the stored one.`,
		Example: `  ruralctl profile set field --url https://imagery.example.org --user amina --token $TOKEN`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			if token == "" {
				token = os.Getenv(auth.DefaultEnvKey)
			}
			profile, err := auth.SaveProfile(cmd.Context(), env.DB, args[0], baseURL, username, token)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved profile %s (%s as %s)\n", profile.Name, profile.BaseURL, profile.Username)
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "", "Server base URL (required)")
	cmd.Flags().StringVar(&username, "user", "", "Operator username (required)")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func newProfileShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show [name]",
		Short: "Show a profile, or the active server when no name is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				fmt.Fprintf(out, "Server:  %s\n", env.Client().BaseURL())
				fmt.Fprintf(out, "Owner:   %s\n", env.Ledger().Owner())
				if profile := env.Profile(); profile != nil {
					fmt.Fprintf(out, "Profile: %s\n", profile.Name)
				}
				return nil
			}

			profile, err := auth.LoadProfile(cmd.Context(), env.DB, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Name:    %s\n", profile.Name)
			fmt.Fprintf(out, "Server:  %s\n", profile.BaseURL)
			fmt.Fprintf(out, "User:    %s\n", profile.Username)
			token := "missing"
			if profile.TokenEnc != "" {
				token = "stored"
			}
			fmt.Fprintf(out, "Token:   %s\n", token)
			return nil
		},
	}
}
