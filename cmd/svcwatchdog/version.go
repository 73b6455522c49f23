package main

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/svcwatchdogteam/svcwatchdog/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("svcwatchdog %s (commit %s, built %s, %s)\n",
			version.Version, version.Commit, version.Date, runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
