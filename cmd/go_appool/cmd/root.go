// Package cmd provides the CLI commands for the go_appool application.
package cmd

import (
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "go_appool",
	Short: "Application instance pool server and utilities",
	Long:  `A pooling server that caches long-lived application worker processes and schedules sessions onto them, with operator tooling for inspection and runtime tuning.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}
