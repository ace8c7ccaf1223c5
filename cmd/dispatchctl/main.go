// Command dispatchctl is the operator tool for the dispatcher: it issues API
// tokens and runs database maintenance without starting the server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		verbose bool
		logger  *zap.Logger
	)

	root := &cobra.Command{
		Use:          "dispatchctl",
		Short:        "Operate the villa job notification dispatcher",
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config := zap.NewProductionConfig()
			if verbose {
				config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			var err error
			logger, err = config.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	getLogger := func() *zap.Logger { return logger }
	root.AddCommand(
		newTokenCmd(),
		newMigrateCmd(getLogger),
		newSweepCmd(getLogger),
	)
	return root
}
