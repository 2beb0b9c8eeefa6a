package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// watchCmd polls the daemon's status at a fixed interval and prints a line
// each time the snapshot changes. The admin protocol (internal/admin) is
// request/response only, so unlike a true event stream this is a diff
// against the previous poll rather than a push from the daemon.
func watchCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll path manager status and print changes",
		Long:  "Repeatedly polls the mptcpd admin socket and prints a line whenever status changes, until interrupted (Ctrl+C).",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return pollStatus(ctx, interval)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "polling interval")

	return cmd
}

func pollStatus(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last string

	poll := func() error {
		resp, err := client.do("status")
		if err != nil {
			return fmt.Errorf("poll status: %w", err)
		}
		out, err := formatStatus(resp, outputFormat)
		if err != nil {
			return fmt.Errorf("format status: %w", err)
		}
		if out != last {
			fmt.Printf("[%s] %s", time.Now().Format(time.RFC3339), out)
			last = out
		}
		return nil
	}

	if err := poll(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := poll(); err != nil {
				return err
			}
		}
	}
}
