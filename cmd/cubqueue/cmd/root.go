package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cubqueue",
	Short: "Cubqueue is a lightweight job queue for registered scripts",
	Long: `cubqueue runs registered scripts as supervised background jobs on a single host.

Scripts are uploaded once and then submitted any number of times with a JSON
parameter document. Each submission gets an isolated working directory, a
combined output log, and downloadable result archives.

Common workflows:

  Start the server in the background:
    cubqueue start --base-dir ~/.cubqueue --daemon

  Register a script:
    cubqueue register analyze.py --name analyze --desc "Nightly analysis"

  Submit a task with an uploaded input:
    cubqueue submit --script analyze --arg-file params.json --file data.csv

  Watch it run:
    cubqueue status <task-id>
    cubqueue logs <task-id> --follow

  Collect the results:
    cubqueue download <task-id> --result --output-dir ./out

Configuration:
  The server address for client commands comes from the --url flag, the
  CUBQUEUE_URL environment variable, or a $HOME/.cubqueue.yaml config file.`,
	SilenceUsage: true,
}

// Execute runs the root command. Errors are already printed by the
// commands themselves; callers only need the exit code.
func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".cubqueue"
		viper.AddConfigPath(home)
		viper.SetConfigName(".cubqueue")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "CUBQUEUE_VARNAME"
	viper.SetEnvPrefix("CUBQUEUE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.cubqueue.yaml)")

	rootCmd.PersistentFlags().String("url", "http://127.0.0.1:8000", "Cubqueue server URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
}
