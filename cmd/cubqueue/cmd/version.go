package cmd

import (
	"runtime/debug"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information for the cubqueue binary",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			cmd.Println("cubqueue: version info not available")
			return
		}

		cmd.Printf("cubqueue: %s\n", info.Main.Version)
		cmd.Printf("go:       %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				cmd.Printf("commit:   %s\n", s.Value)
			case "vcs.time":
				cmd.Printf("date:     %s\n", s.Value)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
