package cmd

import (
	"net/http"

	"botfleet/pkg/api"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [job_id]",
	Short: "Get status of a job",
	Long:  `Retrieve detailed status for a job, including its current state, claimer, attempts, and result.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var job api.JobResponse
		if err := doRequest(http.MethodGet, "/jobs/"+args[0], nil, &job); err != nil {
			cmd.PrintErrf("Failed to get job: %v\n", err)
			return
		}

		cmd.Println("Job Details")
		cmd.Println("──────────────────────────────")
		cmd.Printf("ID:         %s\n", job.ID)
		cmd.Printf("Status:     %s\n", job.Status)
		cmd.Printf("Operation:  %s(%d, %d)\n", job.Operation, job.A, job.B)
		cmd.Printf("Attempts:   %d\n", job.Attempts)
		cmd.Printf("Version:    %d\n", job.Version)
		if job.ClaimedBy != nil {
			cmd.Printf("Claimed by: %s\n", *job.ClaimedBy)
		}
		if job.Result != nil {
			cmd.Printf("Result:     %d\n", *job.Result)
		}
		if job.DurationMS != nil {
			cmd.Printf("Duration:   %dms\n", *job.DurationMS)
		}
		if job.Error != nil {
			cmd.Printf("Error:      %s\n", *job.Error)
		}
		cmd.Printf("Created:    %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
		if job.FinishedAt != nil {
			cmd.Printf("Finished:   %s\n", job.FinishedAt.Format("2006-01-02 15:04:05"))
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
