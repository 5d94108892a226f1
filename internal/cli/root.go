// Package cli implements the zapfluxo command tree.
package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/zapfluxo/zapfluxo/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"  _____           _____ _\n" +
		" |__  /__ _ _ __ |  ___| |_   ___  _____\n" +
		"   / // _` | '_ \\| |_  | | | | \\ \\/ / _ \\\n" +
		"  / /| (_| | |_) |  _| | | |_| |>  < (_) |\n" +
		" /____\\__,_| .__/|_|   |_|\\__,_/_/\\_\\___/\n" +
		"           |_|\n"
)

var rootCmd = &cobra.Command{
	Use:   "zapfluxo",
	Short: "ZapFluxo - confirmation-gated chat automation",
	Long:  color.CyanString(logo) + "\nA chat automation engine that asks before it acts.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(metricsCmd)
}
