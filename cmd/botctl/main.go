// Package main is the entry point for botctl, the botfleet admin CLI.
package main

import (
	"os"

	"botfleet/cmd/botctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
