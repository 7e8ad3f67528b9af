package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/push"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/neurovisor/neurovisor/internal/agent"
	"github.com/neurovisor/neurovisor/internal/config"
	"github.com/neurovisor/neurovisor/internal/control"
	"github.com/neurovisor/neurovisor/internal/gateway"
	"github.com/neurovisor/neurovisor/internal/metrics"
	"github.com/neurovisor/neurovisor/internal/ollama"
	"github.com/neurovisor/neurovisor/internal/output"
	"github.com/neurovisor/neurovisor/internal/ratelimit"
	"github.com/neurovisor/neurovisor/internal/security"
	"github.com/neurovisor/neurovisor/internal/telemetry"
	"github.com/neurovisor/neurovisor/internal/vm"
)

var (
	serveSnapshotFlag    bool
	serveWarmFlag        int
	serveMaxFlag         int
	serveSizeFlag        string
	serveAgentFlag       string
	serveModelFlag       string
	servePushgatewayFlag string
	serveOTLPFlag        string
	serveVsockPortFlag   uint32
	serveCgroupRootFlag  string
	serveMetricsAddrFlag string
	serveControlSockFlag string
)

func addServeCommand(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the VM pool daemon",
		Long: `Run the neurovisor daemon: maintain a warm pool of Firecracker
microVMs, serve gateway execution requests, and optionally drive a
bounded agent task loop.

Examples:
  neurovisor serve
  neurovisor serve --snapshot --warm 5 --max 20
  neurovisor serve --agent "write and run a fibonacci script"
  neurovisor serve --otlp localhost:4316 --pushgateway http://localhost:9091`,
		RunE: runServe,
	}

	flags := cmd.Flags()
	flags.BoolVarP(&serveSnapshotFlag, "snapshot", "s", false, "Boot VMs from snapshot (requires snapshot+memfile on disk)")
	flags.IntVar(&serveWarmFlag, "warm", 3, "Target warm pool size")
	flags.IntVar(&serveMaxFlag, "max", 10, "Max pool size")
	flags.StringVar(&serveSizeFlag, "size", "medium", "VM resource tier: small|medium|large")
	flags.StringVar(&serveAgentFlag, "agent", "", "Run one agent task then exit")
	flags.StringVar(&serveModelFlag, "model", "qwen3", "LLM model name")
	flags.StringVar(&servePushgatewayFlag, "pushgateway", "", "Push final metrics to this Prometheus pushgateway URL on exit")
	flags.StringVar(&serveOTLPFlag, "otlp", "", "OTLP trace collector endpoint (default: config network.otlp_endpoint)")
	flags.Uint32Var(&serveVsockPortFlag, "vsock-port", 6000, "Guest execution server vsock port")
	flags.StringVar(&serveCgroupRootFlag, "cgroup-root", "/sys/fs/cgroup/neurovisor", "cgroup v2 root for VM resource limits")
	flags.StringVar(&serveMetricsAddrFlag, "metrics-addr", ":9090", "Prometheus /metrics listen address (also serves the /execute gateway)")
	flags.StringVar(&serveControlSockFlag, "control-socket", "", "Control socket path (default: ~/.neurovisor/control.sock)")

	parent.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	limits, err := vm.LimitsForSize(serveSizeFlag)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		os.Exit(output.ExitError)
	}

	cgroupMgr, err := vm.NewCgroupManager(serveCgroupRootFlag)
	if err != nil {
		log.WithError(err).Warn("cgroup unavailable; VMs will run without resource limits")
		cgroupMgr = nil
	}

	if output.IsVerbose() {
		posture := security.DescribeRecommendedPosture()
		log.WithFields(log.Fields{
			"drops_recommended": posture.DropsRecommended,
			"keeps_recommended": posture.KeepsRecommended,
			"seccomp_allowlist": posture.SeccompAllowlistLen,
		}).Info("firecracker capability/seccomp posture (documented, not enforced by this process)")
	}

	runDir := filepath.Join(config.Home(), "run")
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("creating run dir: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var tel *telemetry.Telemetry
	otlpEndpoint := serveOTLPFlag
	if otlpEndpoint == "" {
		otlpEndpoint = cfg.Network.OTLPEndpoint
	}
	if otlpEndpoint != "" {
		tel, err = telemetry.Init(ctx, "neurovisor", otlpEndpoint)
		if err != nil {
			log.WithError(err).Warn("telemetry init degraded")
		}
		defer tel.Shutdown(context.Background())
	}

	mgr := vm.NewManager(vm.ManagerConfig{
		FirecrackerBin:  "firecracker",
		KernelImagePath: cfg.VM.KernelImage,
		RootfsPath:      cfg.VM.RootfsImage,
		RunDir:          runDir,
		VsockGuestPort:  serveVsockPortFlag,
		VCPUCount:       2,
		MemSizeMib:      2048,
		Cgroup:          cgroupMgr,
		Log:             log.WithField("component", "vm-manager"),
	})

	snapshotPath, memFilePath := "", ""
	if serveSnapshotFlag {
		snapshotPath, memFilePath = cfg.VM.SnapshotPath, cfg.VM.MemFilePath
	}

	pool := vm.NewPool(mgr, vm.PoolConfig{
		TargetWarmSize: serveWarmFlag,
		MaxPoolSize:    serveMaxFlag,
		Limits:         limits,
		SnapshotPath:   snapshotPath,
		MemFilePath:    memFilePath,
		Log:            log.WithField("component", "vm-pool"),
	})

	if err := pool.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing pool: %w", err)
	}
	go pool.Run(ctx)
	defer pool.Shutdown()

	chat := ollama.New("http://localhost:11434")
	agentCfg := agent.DefaultConfig()
	agentCfg.Model = serveModelFlag
	agentCfg.VsockPort = serveVsockPortFlag
	controller := agent.New(chat, pool, agentCfg)

	if serveAgentFlag != "" {
		result, err := controller.Run(ctx, serveAgentFlag)
		if err != nil {
			if output.IsJSON() {
				output.PrintError(cmd.ErrOrStderr(), err)
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "agent run failed: %v\n", err)
			}
			os.Exit(output.ExitCodeFor(err))
		}
		if output.IsJSON() {
			output.PrintJSON(cmd.OutOrStdout(), result)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), result.FinalResponse)
		}
		return nil
	}

	limiter := ratelimit.DefaultLimiter()
	gw := gateway.New(pool, limiter, serveVsockPortFlag)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/execute", gw.ServeHTTP)
	httpServer := &http.Server{Addr: serveMetricsAddrFlag, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("gateway/metrics server stopped")
		}
	}()

	controlSocket := serveControlSockFlag
	if controlSocket == "" {
		controlSocket = filepath.Join(config.Home(), "control.sock")
	}
	ctrl := control.NewServer(pool, func(ctx context.Context, task string) (string, error) {
		result, err := controller.Run(ctx, task)
		if err != nil {
			return "", err
		}
		return result.FinalResponse, nil
	})
	go func() {
		if err := ctrl.Serve(ctx, controlSocket); err != nil {
			log.WithError(err).Warn("control socket stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	cancel()
	httpServer.Shutdown(context.Background())

	if servePushgatewayFlag != "" {
		pusher := push.New(servePushgatewayFlag, "neurovisor").Gatherer(metrics.Registry)
		if err := pusher.Push(); err != nil {
			log.WithError(err).Warn("final metrics push failed")
		}
	}

	return nil
}
