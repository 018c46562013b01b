package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	configFlag  string
	verboseFlag bool
	logger      zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "algoprep",
	Short: "algoprep - practice coding tasks against test cases",
	Long: `algoprep runs your Python solutions to practice tasks against sample and
custom test cases in an isolated interpreter, and keeps your code and tests
in a local cache mirrored to a remote file store.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		if verboseFlag {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: ./algoprep.yaml or ~/.algoprep/algoprep.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose (debug) logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
