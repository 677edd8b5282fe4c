package cmd

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"cubqueue/internal/config"
	"cubqueue/internal/daemon"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background cubqueue server",
	Long: `Stop the daemon recorded in the base directory's PID file.

The daemon gets a termination signal and a grace period to finish; a
process that does not exit in time is killed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		baseDir, _ := cmd.Flags().GetString("base-dir")

		cfg, err := config.Load(baseDir)
		if err != nil {
			return err
		}

		// Stop only touches the PID file and signals; its logging has
		// nowhere useful to go.
		d := daemon.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
		if err := d.Stop(); err != nil {
			return err
		}

		cmd.Println("cubqueue server stopped")
		return nil
	},
}

func init() {
	stopCmd.Flags().String("base-dir", "", "Workspace directory (default $CUBQUEUE_BASE_DIR or ~/.cubqueue)")

	rootCmd.AddCommand(stopCmd)
}
