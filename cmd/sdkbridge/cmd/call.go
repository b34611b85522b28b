package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"sdkbridge/config"
	"sdkbridge/executor"
	"sdkbridge/middleware"
)

// callCmd spawns a worker, executes one catalogue target, and prints the
// result.
var callCmd = &cobra.Command{
	Use:   "call <target> [arg...]",
	Short: "Execute one call target inside an isolated worker",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, cmdArgs []string) error {
		log, err := newLogger()
		if err != nil {
			return err
		}
		defer log.Sync()

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		args := make([]any, 0, len(cmdArgs)-1)
		for _, raw := range cmdArgs[1:] {
			args = append(args, parseArg(raw))
		}

		exec := executor.New(executor.NewProcessSpawner(cfg, log), cfg)
		exec.SetLogger(log)
		exec.Use(middleware.LoggingMiddleware(log))
		if cfg.RateLimit > 0 {
			exec.Use(middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
		}

		return exec.With(func(e *executor.Executor) error {
			value, err := e.Call(cmdArgs[0], args...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatValue(value))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(callCmd)
}

// parseArg interprets a CLI argument as the narrowest primitive that fits.
func parseArg(raw string) any {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

func formatValue(v any) string {
	if v == nil {
		return "ok"
	}
	return fmt.Sprintf("%v", v)
}
