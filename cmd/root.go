package main

import (
	"os"

	"github.com/juju/loggo"
	"github.com/spf13/cobra"
)

const (
	FlagLogLevel = "log-level"
)

var logger = loggo.GetLogger("listmirror.cmd")

// rootCmd is a base command.
var rootCmd = &cobra.Command{
	Use:   "list-mirror",
	Short: "Ordered list diff mirror tools",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loggersConfig, err := cmd.Flags().GetString(FlagLogLevel)
		if err != nil {
			return err
		}

		return loggo.ConfigureLoggers(loggersConfig)
	},
}

// fatalf logs the error and exits.
func fatalf(format string, args ...interface{}) {
	logger.Criticalf(format, args...)
	os.Exit(1)
}

func init() {
	rootCmd.PersistentFlags().String(FlagLogLevel, "<root>=INFO", "(optional) loggers config, e.g. \"<root>=INFO;listmirror.session=TRACE\"")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fatalf("rootCmd.Execute: %v", err)
	}
}
