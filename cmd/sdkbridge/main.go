package main

import (
	"os"

	"sdkbridge/cmd/sdkbridge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
