// Package cmd holds the predexd command tree.
package cmd

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

// NewRootCmd creates the root command for predexd.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "predexd",
		Short: "PredEx - prediction market exchange daemon",
		Long: `predexd runs the PredEx trading core: the REST and websocket API, the
matching engine, the settlement worker and the agent scheduler.

All configuration comes from the environment; DATABASE_URL and BROKER_URL
are required.`,
	}

	rootCmd.AddCommand(
		StartCmd(),
		VersionCmd(),
	)
	return rootCmd
}

// VersionCmd prints the application version.
func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the application version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("predexd v%s\n", version)
		},
	}
}
