package cmd

import (
	"net/http"

	"botfleet/pkg/api"

	"github.com/spf13/cobra"
)

var populateCmd = &cobra.Command{
	Use:   "populate",
	Short: "Create a batch of jobs",
	Long:  `Create a batch of pending jobs with random operands. Requires the admin token.`,
	Run: func(cmd *cobra.Command, args []string) {
		batchSize, _ := cmd.Flags().GetInt("batch-size")
		operation, _ := cmd.Flags().GetString("operation")

		req := api.PopulateRequest{BatchSize: batchSize, Operation: operation}
		var resp api.PopulateResponse
		if err := doRequest(http.MethodPost, "/jobs/populate", req, &resp); err != nil {
			cmd.PrintErrf("Failed to populate jobs: %v\n", err)
			return
		}

		cmd.Printf("Created %d jobs:\n", len(resp.Created))
		for _, id := range resp.Created {
			cmd.Printf("  %s\n", id)
		}
	},
}

func init() {
	populateCmd.Flags().Int("batch-size", 5, "Number of jobs to create (1-100)")
	populateCmd.Flags().String("operation", "", "Operation for the batch (default: random)")
	rootCmd.AddCommand(populateCmd)
}
