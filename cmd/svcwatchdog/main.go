package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "svcwatchdog",
	Short:         "SvcWatchDog -- single-child service supervisor",
	Long:          "SvcWatchDog hosts a non-interactive program as a managed OS service,\nrestarting it on exit or unresponsiveness and shutting it down gracefully.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
