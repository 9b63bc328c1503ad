package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielolaszy/feedbacksync/internal/vault"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage webhook signing secrets",
}

// secretRotateCmd replaces a project's webhook secret and prints it once.
var secretRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Rotate the webhook secret of a project",
	Long: `Generate a new webhook signing secret for a project and print it.

The previous secret stops working immediately. Update the secret of the
GitHub webhook right away, deliveries signed with the old one are rejected.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := cmd.Flags().GetString("project")
		if err != nil {
			return err
		}
		if projectID == "" {
			return fmt.Errorf("project flag is required")
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		secret, err := vault.New(s).Rotate(cmd.Context(), projectID)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), secret)
		return nil
	},
}

func init() {
	secretRotateCmd.Flags().StringP("project", "p", "", "project id")
	secretCmd.AddCommand(secretRotateCmd)
}
