package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/neurovisor/neurovisor/internal/config"
	"github.com/neurovisor/neurovisor/internal/control"
	"github.com/neurovisor/neurovisor/internal/output"
)

var poolControlSockFlag string

func controlSocketPath() string {
	if poolControlSockFlag != "" {
		return poolControlSockFlag
	}
	return filepath.Join(config.Home(), "control.sock")
}

func addPoolCommand(parent *cobra.Command) {
	poolCmd := &cobra.Command{
		Use:   "pool",
		Short: "Inspect the running daemon's VM pool",
	}
	poolCmd.PersistentFlags().StringVar(&poolControlSockFlag, "control-socket", "", "Control socket path (default: ~/.neurovisor/control.sock)")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show warm/active VM counts",
		RunE:  runPoolStatus,
	}
	poolCmd.AddCommand(statusCmd)
	parent.AddCommand(poolCmd)
}

func runPoolStatus(cmd *cobra.Command, args []string) error {
	socketPath := controlSocketPath()
	if !control.Probe(socketPath) {
		return fmt.Errorf("no daemon listening at %s; is 'neurovisor serve' running?", socketPath)
	}

	resp, err := control.Call(socketPath, &control.Request{Type: "status"})
	if err != nil {
		return fmt.Errorf("querying pool status: %w", err)
	}
	if resp.Type == "error" {
		return fmt.Errorf("daemon error: %s", resp.Error)
	}

	if output.IsJSON() {
		return output.PrintJSON(cmd.OutOrStdout(), resp.Status)
	}

	s := resp.Status
	fmt.Fprintf(cmd.OutOrStdout(), "warm:      %d\n", s.WarmCount)
	fmt.Fprintf(cmd.OutOrStdout(), "active:    %d / %d\n", s.ActiveCount, s.MaxPoolSize)
	fmt.Fprintf(cmd.OutOrStdout(), "created:   %d\n", s.TotalCreated)
	fmt.Fprintf(cmd.OutOrStdout(), "destroyed: %d\n", s.TotalDestroyed)
	return nil
}
