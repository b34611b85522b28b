package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sdkbridge",
	Short: "Process-isolated native SDK call executor",
	Long: `sdkbridge runs every interaction with the fragile native SDK inside a
separate, disposable worker process and presents it to the caller as
ordinary synchronous calls. The same binary serves both sides: the
supervisor commands (call, targets) and the worker loop (worker).`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-ins plus SDKBRIDGE_* env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// newLogger builds a stderr logger. stdout stays clean: in worker mode it
// carries the wire protocol, in supervisor mode it carries command output.
func newLogger() (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return zcfg.Build()
}
