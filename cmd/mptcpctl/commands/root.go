// Package commands implements the mptcpctl CLI commands.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// client talks to the daemon's admin listener, initialized in
	// PersistentPreRunE.
	client *adminClient

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// socketPath is the daemon's admin Unix domain socket.
	socketPath string
)

// rootCmd is the top-level cobra command for mptcpctl.
var rootCmd = &cobra.Command{
	Use:   "mptcpctl",
	Short: "CLI client for the mptcpd path manager",
	Long:  "mptcpctl communicates with the mptcpd daemon over its admin Unix socket to inspect path manager state.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		client = newAdminClient(socketPath)
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "/run/mptcpd/mptcpd.sock",
		"mptcpd admin socket path")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(pluginsCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
