package cmd

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cubqueue/pkg/api"
)

var follow bool

var logsCmd = &cobra.Command{
	Use:   "logs [task-id]",
	Short: "Show the combined output log of a task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		taskID := args[0]
		lines, _ := cmd.Flags().GetInt("lines")

		client := NewQueueClient(viper.GetString("url"))

		if !follow {
			text, err := client.GetTaskLog(taskID, lines)
			if err != nil {
				printClientError(cmd, err)
				return
			}
			cmd.Print(text)
			if text != "" && !strings.HasSuffix(text, "\n") {
				cmd.Println()
			}
			return
		}

		// Trap Ctrl+C to exit gracefully
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		go func() {
			<-sigChan
			os.Exit(0)
		}()

		followLog(cmd, client, taskID)
	},
}

// followLog polls the whole log and prints only what is new since the
// previous poll, until the task reaches a terminal state.
func followLog(cmd *cobra.Command, client *QueueClient, taskID string) {
	printed := 0

	printNew := func() error {
		text, err := client.GetTaskLog(taskID, 0)
		if err != nil {
			return err
		}
		if len(text) < printed {
			// Log was truncated (task restarted); start over.
			printed = 0
		}
		if len(text) > printed {
			cmd.Print(text[printed:])
			printed = len(text)
		}
		return nil
	}

	for {
		if err := printNew(); err != nil {
			printClientError(cmd, err)
			return
		}

		status, err := client.GetTaskStatus(taskID)
		if err != nil {
			printClientError(cmd, err)
			return
		}
		if api.IsTerminalStatus(status.Status) {
			// Pick up anything written between the last poll and the
			// terminal transition.
			if err := printNew(); err != nil {
				printClientError(cmd, err)
			}
			return
		}

		time.Sleep(2 * time.Second)
	}
}

func init() {
	logsCmd.Flags().IntP("lines", "l", 100, "Number of log lines to show (0 = whole log)")
	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output until the task finishes")

	rootCmd.AddCommand(logsCmd)
}
