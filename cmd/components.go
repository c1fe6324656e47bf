package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Inspect environments",
}

var envListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the environments routines can use",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range registry().Environments.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var generatorCmd = &cobra.Command{
	Use:   "generator",
	Short: "Inspect generators",
}

var generatorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the generators routines can use",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range registry().Generators.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func init() {
	envCmd.AddCommand(envListCmd)
	generatorCmd.AddCommand(generatorListCmd)
	rootCmd.AddCommand(envCmd, generatorCmd)
}
