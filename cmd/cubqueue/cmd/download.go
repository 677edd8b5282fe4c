package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var downloadCmd = &cobra.Command{
	Use:   "download [task-id]",
	Short: "Download task artifacts",
	Long: `Download the artifact archives of a task and unpack them into the
output directory. --metadata fetches the intermediate artifacts,
--result the final ones; both may be given together.

Example:
  cubqueue download 4f9f6b22-... --result --output-dir ./out
  cubqueue download 4f9f6b22-... --metadata --result`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		taskID := args[0]

		flags := cmd.Flags()
		outputDir, _ := flags.GetString("output-dir")
		metadata, _ := flags.GetBool("metadata")
		result, _ := flags.GetBool("result")

		if !metadata && !result {
			cmd.Println("Error: specify --metadata, --result or both")
			return
		}

		client := NewQueueClient(viper.GetString("url"))

		if metadata {
			dir, err := client.DownloadMetadata(taskID, outputDir)
			if err != nil {
				printClientError(cmd, err)
				return
			}
			cmd.Printf("Metadata downloaded to: %s\n", dir)
		}

		if result {
			dir, err := client.DownloadResult(taskID, outputDir)
			if err != nil {
				printClientError(cmd, err)
				return
			}
			cmd.Printf("Result downloaded to: %s\n", dir)
		}
	},
}

func init() {
	flags := downloadCmd.Flags()
	flags.StringP("output-dir", "o", ".", "Directory to unpack into")
	flags.Bool("metadata", false, "Download the intermediate artifacts")
	flags.Bool("result", false, "Download the final artifacts")

	rootCmd.AddCommand(downloadCmd)
}
