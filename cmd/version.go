package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(ui.Out, "vibe %s\n", buildVersion)
		fmt.Fprintf(ui.Out, "  commit: %s\n", buildCommit)
		fmt.Fprintf(ui.Out, "  built:  %s\n", buildDate)
		fmt.Fprintf(ui.Out, "  go:     %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
