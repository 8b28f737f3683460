package cmd

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/env"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X github.com/Ayazzbek/kaspi--lab-project1/cmd.Version=..."
var (
	Version   = "dev"
	GitCommit = ""
	BuildDate = "unknown"
)

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("uploader {{.Version}}\n")
}

// commit falls back to the VCS stamp embedded by go build.
func commit() string {
	if GitCommit != "" {
		return GitCommit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				return s.Value
			}
		}
	}
	return "unknown"
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "uploader %s (%s, built %s)\n", Version, commit(), BuildDate)
		fmt.Fprintf(out, "%s %s/%s, env %s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH, env.Env)
	},
}
