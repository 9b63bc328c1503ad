package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielolaszy/feedbacksync/internal/config"
	"github.com/danielolaszy/feedbacksync/internal/github"
	"github.com/danielolaszy/feedbacksync/internal/health"
	"github.com/danielolaszy/feedbacksync/internal/store"
)

// healthCmd prints the webhook delivery health of a project.
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show recent webhook deliveries of a project",
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
		if err := config.ValidateGitHubConfig(cfg); err != nil {
			return err
		}
		s, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		gh, err := github.NewClient(cfg.GitHub)
		if err != nil {
			return fmt.Errorf("failed to initialize github client: %w", err)
		}

		report, err := health.NewMonitor(s, gh).CheckHealth(cmd.Context(), projectID)
		if err != nil {
			return err
		}
		if report.Verified {
			now := time.Now().UTC()
			if err := store.MarkIntegrationVerified(cmd.Context(), s.DB(), projectID, now); err != nil {
				return err
			}
			report.LastVerifiedAt = &now
		}
		return printReport(cmd, report)
	},
}

func printReport(cmd *cobra.Command, report *health.Report) error {
	out := cmd.OutOrStdout()
	verdict := "failing"
	if report.Verified {
		verdict = "healthy"
	}
	fmt.Fprintf(out, "webhook: %s\n", verdict)
	if report.LastVerifiedAt != nil {
		fmt.Fprintf(out, "last verified: %s\n", report.LastVerifiedAt.Format(time.RFC3339))
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DELIVERED\tEVENT\tSTATUS\tREDELIVERY")
	for _, d := range report.RecentDeliveries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\n", d.Timestamp.Format(time.RFC3339), d.Event, d.ResponseStatus, d.Redelivery)
	}
	return tw.Flush()
}

func init() {
	healthCmd.Flags().StringP("project", "p", "", "project id")
}
