// Package cmd provides the CLI commands for the ascent application.
package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ascent",
	Short: "Ascent - a conversational data science copilot",
	Long: `Ascent drives tabular data science projects through conversation:
upload a dataset, then describe what you want in plain language. The engine
plans tool calls, runs them in an isolated sandbox, and folds results and
versioned artifacts back into the project.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".ascent/config.yaml", "Path to the configuration file")
}
