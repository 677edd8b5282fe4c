package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var unregisterCmd = &cobra.Command{
	Use:   "unregister [name]",
	Short: "Delete a registered script",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]

		client := NewQueueClient(viper.GetString("url"))
		if err := client.DeleteScript(name); err != nil {
			printClientError(cmd, err)
			return
		}

		cmd.Printf("Script '%s' deleted\n", name)
	},
}

func init() {
	rootCmd.AddCommand(unregisterCmd)
}
