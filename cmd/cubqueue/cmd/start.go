package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"cubqueue/internal/config"
	"cubqueue/internal/daemon"
	"cubqueue/internal/logger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the cubqueue server",
	Long: `Start the cubqueue server for a base directory.

By default the server runs in the foreground and logs to stdout. With
--daemon it detaches into the background; its output then goes to
cubqueue.log inside the base directory.

Example:
  cubqueue start --base-dir ~/.cubqueue --port 8000 --daemon`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		baseDir, _ := flags.GetString("base-dir")
		detach, _ := flags.GetBool("daemon")

		cfg, err := config.Load(baseDir)
		if err != nil {
			return err
		}
		if flags.Changed("host") {
			cfg.Host, _ = flags.GetString("host")
		}
		if flags.Changed("port") {
			cfg.Port, _ = flags.GetInt("port")
			if err := cfg.Validate(); err != nil {
				return err
			}
		}

		log := logger.New(os.Stdout, cfg.Debug)
		d := daemon.New(cfg, log)

		if detach && os.Getenv(daemon.EnvMarker) == "" {
			pid, err := d.StartDetached()
			if err != nil {
				return err
			}
			cmd.Printf("cubqueue daemon started (http://%s, pid %d)\n", cfg.Addr(), pid)
			return nil
		}

		return d.Run(context.Background())
	},
}

func init() {
	flags := startCmd.Flags()
	flags.String("base-dir", "", "Workspace directory (default $CUBQUEUE_BASE_DIR or ~/.cubqueue)")
	flags.String("host", config.DefaultHost, "Listen host")
	flags.Int("port", config.DefaultPort, "Listen port")
	flags.BoolP("daemon", "d", false, "Run in the background")

	rootCmd.AddCommand(startCmd)
}
