package cmd

import (
	"net/http"

	"botfleet/pkg/api"

	"github.com/spf13/cobra"
)

var releaseCmd = &cobra.Command{
	Use:   "release [job_id]",
	Short: "Force a claimed or processing job back to pending",
	Long:  `Release a non-terminal job back to the pending queue, clearing its bot binding and bumping its attempt counter. Requires the admin token.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reason, _ := cmd.Flags().GetString("reason")

		if err := doRequest(http.MethodPost, "/jobs/"+args[0]+"/release", api.ReleaseRequest{Reason: reason}, nil); err != nil {
			cmd.PrintErrf("Failed to release job: %v\n", err)
			return
		}
		cmd.Printf("Job %s released back to pending\n", args[0])
	},
}

func init() {
	releaseCmd.Flags().String("reason", "", "Reason recorded on the job")
	rootCmd.AddCommand(releaseCmd)
}
