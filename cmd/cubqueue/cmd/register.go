package cmd

import (
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var registerCmd = &cobra.Command{
	Use:   "register [script-file]",
	Short: "Register a script with the server",
	Long: `Upload a script so it can be submitted as a task.

The script name defaults to the file name without its extension.

Example:
  cubqueue register analyze.py --desc "Nightly analysis"
  cubqueue register jobs/report.sh --name report --desc "Weekly report"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		scriptPath := args[0]

		flags := cmd.Flags()
		name, _ := flags.GetString("name")
		desc, _ := flags.GetString("desc")

		if name == "" {
			base := filepath.Base(scriptPath)
			name = strings.TrimSuffix(base, filepath.Ext(base))
		}

		client := NewQueueClient(viper.GetString("url"))
		result, err := client.RegisterScript(name, desc, scriptPath)
		if err != nil {
			printClientError(cmd, err)
			return
		}

		cmd.Printf("✓ Script registered!\nName: %s\nID: %d\n", result.Name, result.ID)
	},
}

// printClientError renders API errors with their status code, anything
// else verbatim.
func printClientError(cmd *cobra.Command, err error) {
	if apiErr, ok := err.(*APIError); ok {
		cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
		return
	}
	cmd.Printf("Error: %v\n", err)
}

func init() {
	flags := registerCmd.Flags()
	flags.StringP("name", "n", "", "Script name (default: file name without extension)")
	flags.String("desc", "", "Script description")

	rootCmd.AddCommand(registerCmd)
}
