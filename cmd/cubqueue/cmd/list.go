package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List submitted tasks",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewQueueClient(viper.GetString("url"))
		tasks, err := client.ListTasks()
		if err != nil {
			printClientError(cmd, err)
			return
		}

		if len(tasks) == 0 {
			cmd.Println("No tasks submitted.")
			return
		}

		cmd.Println("Tasks:")
		for _, task := range tasks {
			cmd.Printf("  - %s: %s (%s)\n", task.ID, task.ScriptName, colorizeStatus(task.Status))
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
