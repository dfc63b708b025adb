package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aimikata/storyboard/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "storyboard %s\n", version.GitRelease)
		fmt.Fprintf(out, "  Go:     %s\n", version.GoInfo)
		if version.GitCommit != "" {
			fmt.Fprintf(out, "  Commit: %s\n", version.GitCommit)
		}
		if version.GitCommitDate != "" {
			fmt.Fprintf(out, "  Date:   %s\n", version.GitCommitDate)
		}
	},
}
