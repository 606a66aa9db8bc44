package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "siteaudit",
	Short: "AI visibility assessment service",
	Long: `siteaudit analyzes websites for AI search visibility.

It exposes an HTTP API that accepts assessment requests, runs a
multi-category analysis through an LLM provider in the background, and
emails the finished report to the requester.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("siteaudit %s\n", version)
	},
}

func main() {
	rootCmd.AddCommand(serveCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
