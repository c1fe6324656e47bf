package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cwbudde/badger/internal/routine"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "badger version %s\n", routine.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
