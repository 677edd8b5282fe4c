package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show workspace disk usage",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewQueueClient(viper.GetString("url"))
		usage, err := client.Usage()
		if err != nil {
			printClientError(cmd, err)
			return
		}

		cmd.Println("Workspace usage:")
		cmd.Printf("  Scripts: %s (%d files)\n", formatBytes(usage.ScriptsBytes), usage.ScriptsCount)
		cmd.Printf("  Jobs:    %s (%d directories)\n", formatBytes(usage.JobsBytes), usage.JobsCount)
		cmd.Printf("  Total:   %s\n", formatBytes(usage.TotalBytes))
	},
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func init() {
	rootCmd.AddCommand(usageCmd)
}
