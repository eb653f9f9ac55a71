package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "botctl",
	Short: "botctl is a command line tool for operating the botfleet coordinator",
	Long: `botctl is the command-line interface for the botfleet job coordinator.

The coordinator dispatches computational jobs to a fleet of worker bots and
records their outcomes. botctl drives the admin surface of its HTTP API.

Common workflows:

  Create a batch of jobs:
    botctl populate --batch-size 10 --operation sum

  Inspect a job:
    botctl status <job-id>

  Force a stuck job back to pending:
    botctl release <job-id> --reason "operator intervention"

  List the fleet:
    botctl bots

  Run retention cleanup:
    botctl cleanup --dry-run

Configuration:
  Set the API endpoint and admin token via environment variables or a config file:
    BOTFLEET_URL      Coordinator endpoint (default: http://localhost:8080)
    BOTFLEET_TOKEN    Admin bearer token for authenticated endpoints`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".botctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".botctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "BOTFLEET_VARNAME"
	viper.SetEnvPrefix("BOTFLEET")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.botctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:8080", "Coordinator URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "Admin token for authenticated endpoints")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
