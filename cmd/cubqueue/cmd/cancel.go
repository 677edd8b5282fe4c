package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel [task-id]",
	Short: "Cancel a pending or running task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		taskID := args[0]

		client := NewQueueClient(viper.GetString("url"))
		if err := client.CancelTask(taskID); err != nil {
			printClientError(cmd, err)
			return
		}

		cmd.Printf("Task %s cancelled\n", taskID)
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
