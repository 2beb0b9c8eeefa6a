package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func pluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List loaded path manager plugins",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := client.do("plugins")
			if err != nil {
				return fmt.Errorf("list plugins: %w", err)
			}

			out, err := formatPlugins(resp, outputFormat)
			if err != nil {
				return fmt.Errorf("format plugins: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}
