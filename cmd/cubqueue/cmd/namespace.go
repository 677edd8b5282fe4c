package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var namespaceCmd = &cobra.Command{
	Use:   "namespace",
	Short: "List registered scripts",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewQueueClient(viper.GetString("url"))
		scripts, err := client.ListScripts()
		if err != nil {
			printClientError(cmd, err)
			return
		}

		if len(scripts) == 0 {
			cmd.Println("No scripts registered.")
			return
		}

		cmd.Println("Registered scripts:")
		for _, script := range scripts {
			cmd.Printf("  - %s: %s\n", script.Name, script.Description)
		}
	},
}

func init() {
	rootCmd.AddCommand(namespaceCmd)
}
