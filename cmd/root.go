// Package cmd defines the command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vsa",
	Short: "Veteran Support Agent backend",
	Long: `Veteran Support Agent is the backend service for a retrieval-augmented
assistant answering questions about VA disability benefits. It brokers chat
requests to the language-model provider, retrieves passages from 38 CFR and
the M21 manual, and meters every provider call against user credits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
