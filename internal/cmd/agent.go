package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/neurovisor/neurovisor/internal/agent"
	"github.com/neurovisor/neurovisor/internal/config"
	"github.com/neurovisor/neurovisor/internal/control"
	"github.com/neurovisor/neurovisor/internal/ollama"
	"github.com/neurovisor/neurovisor/internal/output"
	"github.com/neurovisor/neurovisor/internal/vm"
)

var (
	agentModelFlag       string
	agentControlSockFlag string
	agentStandaloneWarm  int
	agentCgroupRootFlag  string
)

func addAgentCommand(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "agent TASK",
		Short: "Run one agent task",
		Long: `Run one bounded agent task. If a "neurovisor serve" daemon is
already running, the task is sent to it over the control socket
(fast path, the daemon's warm pool is reused). Otherwise a standalone
pool is embedded just for this run — mirrors the teacher's
tryPoolExec-then-cold-path fallback, generalized from Deephaven rootfs
exec to agent task exec.

Example:
  neurovisor agent "write and run a fibonacci script"`,
		Args: cobra.ExactArgs(1),
		RunE: runAgent,
	}

	flags := cmd.Flags()
	flags.StringVar(&agentModelFlag, "model", "qwen3", "LLM model name")
	flags.StringVar(&agentControlSockFlag, "control-socket", "", "Control socket path (default: ~/.neurovisor/control.sock)")
	flags.IntVar(&agentStandaloneWarm, "warm", 1, "Standalone-mode warm pool size")
	flags.StringVar(&agentCgroupRootFlag, "cgroup-root", "/sys/fs/cgroup/neurovisor", "cgroup v2 root (standalone mode)")

	parent.AddCommand(cmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	task := args[0]

	socketPath := agentControlSockFlag
	if socketPath == "" {
		socketPath = filepath.Join(config.Home(), "control.sock")
	}

	if control.Probe(socketPath) {
		resp, err := control.Call(socketPath, &control.Request{Type: "agent", Task: task})
		if err == nil && resp.Type != "error" {
			fmt.Fprintln(cmd.OutOrStdout(), resp.Result)
			return nil
		}
		log.WithError(err).Warn("daemon agent call failed, falling back to standalone pool")
	}

	return runAgentStandalone(cmd, task)
}

func runAgentStandalone(cmd *cobra.Command, task string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cgroupMgr, err := vm.NewCgroupManager(agentCgroupRootFlag)
	if err != nil {
		log.WithError(err).Warn("cgroup unavailable; standalone VMs will run without resource limits")
		cgroupMgr = nil
	}

	runDir := filepath.Join(config.Home(), "run")
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("creating run dir: %w", err)
	}

	mgr := vm.NewManager(vm.ManagerConfig{
		FirecrackerBin:  "firecracker",
		KernelImagePath: cfg.VM.KernelImage,
		RootfsPath:      cfg.VM.RootfsImage,
		RunDir:          runDir,
		VsockGuestPort:  cfg.Network.VsockPort,
		VCPUCount:       2,
		MemSizeMib:      2048,
		Cgroup:          cgroupMgr,
		Log:             log.WithField("component", "vm-manager"),
	})

	pool := vm.NewPool(mgr, vm.PoolConfig{
		TargetWarmSize: agentStandaloneWarm,
		MaxPoolSize:    agentStandaloneWarm + 1,
		Limits:         vm.MediumLimits(),
		Log:            log.WithField("component", "vm-pool"),
	})

	ctx := cmd.Context()
	if err := pool.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing standalone pool: %w", err)
	}
	defer pool.Shutdown()

	chat := ollama.New("http://localhost:11434")
	agentCfg := agent.DefaultConfig()
	agentCfg.Model = agentModelFlag
	agentCfg.VsockPort = cfg.Network.VsockPort
	controller := agent.New(chat, pool, agentCfg)

	result, err := controller.Run(ctx, task)
	if err != nil {
		if output.IsJSON() {
			output.PrintError(cmd.ErrOrStderr(), err)
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "agent run failed: %v\n", err)
		}
		os.Exit(output.ExitCodeFor(err))
	}

	if output.IsJSON() {
		return output.PrintJSON(cmd.OutOrStdout(), result)
	}
	fmt.Fprintln(cmd.OutOrStdout(), result.FinalResponse)
	return nil
}
