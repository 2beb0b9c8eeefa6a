package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	appversion "github.com/mptcpd/mptcpd/internal/version"
)

// GitCommit is the git commit hash, set at build time via ldflags.
var GitCommit = "unknown"

// BuildDate is the build timestamp, set at build time via ldflags.
var BuildDate = "unknown"

func versionCmd() *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print mptcpctl build information",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Printf("mptcpctl %s\n", appversion.Version)
			fmt.Printf("  commit:  %s\n", GitCommit)
			fmt.Printf("  built:   %s\n", BuildDate)

			if !remote {
				return nil
			}

			resp, err := client.do("version")
			if err != nil {
				return fmt.Errorf("query daemon version: %w", err)
			}
			fmt.Printf("mptcpd   %s\n", resp.Version)
			return nil
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "also query the running daemon's version")

	return cmd
}
