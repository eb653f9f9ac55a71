package cmd

import (
	"net/http"

	"botfleet/pkg/api"

	"github.com/spf13/cobra"
)

var botsCmd = &cobra.Command{
	Use:   "bots",
	Short: "List registered bots",
	Run: func(cmd *cobra.Command, args []string) {
		includeDeleted, _ := cmd.Flags().GetBool("include-deleted")

		path := "/bots"
		if includeDeleted {
			path += "?include_deleted=true"
		}

		var bots []api.BotResponse
		if err := doRequest(http.MethodGet, path, nil, &bots); err != nil {
			cmd.PrintErrf("Failed to list bots: %v\n", err)
			return
		}

		if len(bots) == 0 {
			cmd.Println("No bots registered")
			return
		}

		cmd.Printf("%-24s %-10s %-10s %-12s %s\n", "ID", "STATUS", "HEALTH", "OPERATION", "CURRENT JOB")
		for _, b := range bots {
			operation := "-"
			if b.AssignedOperation != nil {
				operation = *b.AssignedOperation
			}
			currentJob := "-"
			if b.CurrentJobID != nil {
				currentJob = *b.CurrentJobID
			}
			cmd.Printf("%-24s %-10s %-10s %-12s %s\n", b.ID, b.ComputedStatus, b.HealthStatus, operation, currentJob)
		}
	},
}

func init() {
	botsCmd.Flags().Bool("include-deleted", false, "Include soft-deleted bots")
	rootCmd.AddCommand(botsCmd)
}
