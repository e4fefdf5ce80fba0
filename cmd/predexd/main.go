package main

import (
	"os"

	"cosmossdk.io/log"

	"github.com/openpredict/predex/cmd/predexd/cmd"
)

func main() {
	rootCmd := cmd.NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		log.NewLogger(os.Stderr).Error("predexd exited with error", "err", err)
		os.Exit(1)
	}
}
