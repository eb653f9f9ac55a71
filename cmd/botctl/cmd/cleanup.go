package cmd

import (
	"net/http"

	"botfleet/pkg/api"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run retention cleanup",
	Long:  `Physically remove bot rows past the retention window and purge orphaned results. Requires the admin token.`,
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		path := "/admin/cleanup"
		if dryRun {
			path += "?dry_run=true"
		}

		var report api.CleanupReport
		if err := doRequest(http.MethodPost, path, nil, &report); err != nil {
			cmd.PrintErrf("Cleanup failed: %v\n", err)
			return
		}

		mode := "deleted"
		if report.DryRun {
			mode = "would delete"
		}
		cmd.Printf("Cleanup at %s: %s %d bots, %d orphaned results\n",
			report.Timestamp.Format("2006-01-02 15:04:05"), mode, report.DeletedBots, report.OrphanedResults)
		for _, e := range report.Errors {
			cmd.PrintErrf("  error: %s\n", e)
		}
	},
}

func init() {
	cleanupCmd.Flags().Bool("dry-run", false, "Only count, do not delete")
	rootCmd.AddCommand(cleanupCmd)
}
