package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"sdkbridge/codec"
	"sdkbridge/native"
	"sdkbridge/worker"
)

var (
	workerAppID    uint32
	workerCodec    string
	simHostDown    bool
	simLoggedOut   bool
	simServerTime  int64
	simValueAnswer int64
)

// workerCmd is the entrypoint the executor spawns. It speaks the frame
// protocol on stdin/stdout and logs to stderr only.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run the isolated worker loop over stdin/stdout",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger()
		if err != nil {
			return err
		}
		defer log.Sync()

		ncfg := native.DefaultConfig()
		ncfg.HostRunning = !simHostDown
		ncfg.LoggedOn = !simLoggedOut
		if simServerTime != 0 {
			ncfg.ServerTime = simServerTime
		}
		if simValueAnswer != 0 {
			ncfg.Value = simValueAnswer
		}

		ct := codec.CodecTypeJSON
		if workerCodec == "binary" {
			ct = codec.CodecTypeBinary
		}

		return worker.Serve(os.Stdin, os.Stdout, worker.ServeConfig{
			AppID:  workerAppID,
			Codec:  ct,
			Native: ncfg,
			Logger: log,
		})
	},
}

func init() {
	workerCmd.Flags().Uint32Var(&workerAppID, "app-id", native.DefaultAppID, "application id handed to the native library")
	workerCmd.Flags().StringVar(&workerCodec, "codec", "json", "wire codec: json or binary")
	workerCmd.Flags().BoolVar(&simHostDown, "simulate-host-down", false, "pretend the host client is not running")
	workerCmd.Flags().BoolVar(&simLoggedOut, "simulate-logged-out", false, "pretend no user session exists")
	workerCmd.Flags().Int64Var(&simServerTime, "server-time", 0, "override the simulated server time")
	workerCmd.Flags().Int64Var(&simValueAnswer, "value", 0, "override the simulated get_value answer")
	rootCmd.AddCommand(workerCmd)
}
