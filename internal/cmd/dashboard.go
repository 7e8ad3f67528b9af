package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/neurovisor/neurovisor/internal/config"
	"github.com/neurovisor/neurovisor/internal/control"
	"github.com/neurovisor/neurovisor/internal/tui"
	"github.com/neurovisor/neurovisor/internal/vm"
)

var dashboardSocketFlag string

func addDashboardCommand(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Live pool-status TUI for a running daemon",
		Long: `Attach to a running "neurovisor serve" daemon's control socket and
render its warm/active VM counts live.`,
		RunE: runDashboard,
	}
	cmd.Flags().StringVar(&dashboardSocketFlag, "socket", "", "Control socket path (default: ~/.neurovisor/control.sock)")
	parent.AddCommand(cmd)
}

func runDashboard(cmd *cobra.Command, args []string) error {
	socketPath := dashboardSocketFlag
	if socketPath == "" {
		socketPath = filepath.Join(config.Home(), "control.sock")
	}
	if !control.Probe(socketPath) {
		return fmt.Errorf("no daemon listening at %s; is 'neurovisor serve' running?", socketPath)
	}

	fetch := func() (vm.PoolStats, error) {
		resp, err := control.Call(socketPath, &control.Request{Type: "status"})
		if err != nil {
			return vm.PoolStats{}, err
		}
		if resp.Type == "error" {
			return vm.PoolStats{}, fmt.Errorf("daemon error: %s", resp.Error)
		}
		return *resp.Status, nil
	}

	return tui.Run(fetch)
}
