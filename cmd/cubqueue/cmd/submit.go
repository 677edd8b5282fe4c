package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a task for a registered script",
	Long: `Submit a task: the named script runs with the given JSON parameter
document in a fresh working directory.

Input files uploaded with --file are referenced from the parameter
document as <file1>, <file2>, ... in the order the flags appear.

Example:
  cubqueue submit --script analyze --arg-file params.json
  cubqueue submit --script analyze --arg-file params.json --file data.csv --file extra.csv
  cubqueue submit --script analyze --arg-file params.json --wait`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		scriptName, _ := flags.GetString("script")
		argFile, _ := flags.GetString("arg-file")
		files, _ := flags.GetStringArray("file")
		description, _ := flags.GetString("description")
		wait, _ := flags.GetBool("wait")

		if scriptName == "" {
			cmd.Println("Error: --script is required")
			return
		}
		if argFile == "" {
			cmd.Println("Error: --arg-file is required")
			return
		}

		client := NewQueueClient(viper.GetString("url"))
		result, err := client.SubmitTask(scriptName, argFile, files, description)
		if err != nil {
			printClientError(cmd, err)
			return
		}

		cmd.Printf("✓ Task submitted!\nID: %s\n", result.ID)

		if !wait {
			return
		}

		cmd.Println("Waiting for task to finish...")
		status, err := client.WaitForTask(result.ID, time.Hour, 2*time.Second)
		if err != nil {
			printClientError(cmd, err)
			return
		}

		cmd.Printf("Final status: %s\n", colorizeStatus(status.Status))
		if status.Message != nil {
			cmd.Printf("Message: %s\n", *status.Message)
		}
	},
}

func init() {
	flags := submitCmd.Flags()
	flags.StringP("script", "s", "", "Name of the registered script (required)")
	flags.StringP("arg-file", "a", "", "JSON parameter document (required)")
	flags.StringArrayP("file", "f", nil, "Input file to upload (repeatable)")
	flags.String("description", "", "Free-form task description")
	flags.BoolP("wait", "w", false, "Block until the task reaches a terminal state")

	rootCmd.AddCommand(submitCmd)
}
