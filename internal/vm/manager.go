package vm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// VmBootTimeout is returned when the Firecracker API socket never appears
// within the bounded wait of step 7 of create_vm.
type VmBootTimeout struct {
	VMID string
}

func (e *VmBootTimeout) Error() string {
	return fmt.Sprintf("vm %s: timed out waiting for api socket", e.VMID)
}

// ManagerConfig configures the VM Manager's shared resources.
type ManagerConfig struct {
	FirecrackerBin  string
	KernelImagePath string
	KernelArgs      string
	RootfsPath      string
	RunDir          string // base dir for per-VM api socket / vsock path
	VsockGuestPort  uint32
	VCPUCount       int64
	MemSizeMib      int64
	APISocketWait   time.Duration // default 10s
	Cgroup          *CgroupManager
	Collaborators   []Collaborator
	Log             *log.Entry
}

// Collaborator is an optional, gracefully-degrading observer attached to a
// VM's lifecycle (eBPF tracing, OTLP spans, ...). Registration failures
// are logged, never fatal, per spec.md §9's "weak collaborators."
type Collaborator interface {
	OnVMCreated(vmID string, pid int)
	OnVMDestroyed(vmID string)
}

// cidCounter is the monotonic CID allocator shared by all VMs in the
// process. CIDs 0/1/2 are reserved; allocation starts at 3 and is never
// reused, per spec.md §4.3.
var cidCounter uint32 = 2

func nextCID() uint32 {
	return atomic.AddUint32(&cidCounter, 1)
}

// Manager creates and destroys single VMs end-to-end.
type Manager struct {
	cfg ManagerConfig
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.APISocketWait == 0 {
		cfg.APISocketWait = 10 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = log.WithField("component", "vm-manager")
	}
	return &Manager{cfg: cfg}
}

// CreateVM runs the 9-step create_vm sequence from spec.md §4.3.
//
// snapshotPath/memFilePath: when non-empty, boot is snapshot/load+resume
// instead of boot-source/add-drive/vsock/start.
func (m *Manager) CreateVM(ctx context.Context, limits ResourceLimits, snapshotPath, memFilePath string) (*Handle, error) {
	start := time.Now()

	// (1) allocate vm_id and CID.
	vmID := fmt.Sprintf("vm-%s", uuid.Must(uuid.NewV7()).String())
	cid := nextCID()

	// (2) compute per-VM unique paths.
	apiSocket := filepath.Join(m.cfg.RunDir, fmt.Sprintf("firecracker-%s.sock", vmID))
	vsockPath := filepath.Join(m.cfg.RunDir, fmt.Sprintf("%s.vsock", vmID))

	h := &Handle{
		VMID:      vmID,
		CID:       cid,
		APISocket: apiSocket,
		VsockPath: vsockPath,
		Status:    StatusStarting,
		CreatedAt: start,
	}

	// (3) remove stale files.
	os.Remove(apiSocket)
	os.Remove(vsockPath)

	if err := os.MkdirAll(m.cfg.RunDir, 0o755); err != nil {
		h.Status = StatusFailed
		h.FailReason = err.Error()
		return h, fmt.Errorf("creating run dir: %w", err)
	}

	params := MachineParams{
		BinaryPath:      m.cfg.FirecrackerBin,
		APISocket:       apiSocket,
		KernelImagePath: m.cfg.KernelImagePath,
		KernelArgs:      m.cfg.KernelArgs,
		RootfsPath:      m.cfg.RootfsPath,
		ReadOnlyRootfs:  snapshotPath != "",
		VsockPath:       vsockPath,
		CID:             cid,
		VCPUCount:       m.cfg.VCPUCount,
		MemSizeMib:      m.cfg.MemSizeMib,
	}

	// (4)-(8): spawn Firecracker, wait for the api socket, then either
	// snapshot/load+resume or boot-source/add-drive/vsock/start. The SDK's
	// NewMachine+Start calls block on the api socket internally, which
	// subsumes step (7)'s bounded wait; bootCtx bounds it by APISocketWait,
	// and a boot error after that deadline is returned as the typed
	// VmBootTimeout spec.md names rather than a raw SDK error.
	bootCtx, cancel := context.WithTimeout(ctx, m.cfg.APISocketWait)
	defer cancel()

	var (
		proc *firecrackerProcess
		err  error
	)
	if snapshotPath != "" {
		proc, err = BootFromSnapshot(bootCtx, params, snapshotPath, memFilePath)
	} else {
		proc, err = BootFresh(bootCtx, params)
	}
	if err != nil {
		h.Status = StatusFailed
		h.FailReason = err.Error()
		if bootCtx.Err() != nil {
			m.destroyFiles(h)
			return h, &VmBootTimeout{VMID: vmID}
		}
		m.destroyFiles(h)
		return h, err
	}
	h.process = proc

	pid, _ := proc.PID()
	h.PID = pid

	// (5) register PID with cgroup, if available.
	if m.cfg.Cgroup != nil {
		if cgErr := m.cfg.Cgroup.Create(vmID, limits); cgErr != nil {
			m.cfg.Log.WithError(cgErr).Warnf("cgroup setup failed for %s, continuing without limits", vmID)
		} else if cgErr := m.cfg.Cgroup.AddProcess(vmID, pid); cgErr != nil {
			m.cfg.Log.WithError(cgErr).Warnf("cgroup registration failed for %s, continuing without limits", vmID)
		}
	}

	// (6) register with optional collaborators.
	for _, c := range m.cfg.Collaborators {
		c.OnVMCreated(vmID, pid)
	}

	// (9) mark Ready, record boot latency.
	h.Status = StatusReady
	h.BootLatency = time.Since(start)
	return h, nil
}

// DestroyVM marks Stopping, kills the Firecracker process, waits for exit,
// deletes api_socket/vsock files and any per-port vsock listener files,
// and removes the cgroup directory. Idempotent with respect to
// already-dead processes.
func (m *Manager) DestroyVM(h *Handle) error {
	h.Status = StatusStopping

	if h.process != nil {
		h.process.Stop()
		waitCtx, cancelWait := context.WithTimeout(context.Background(), 5*time.Second)
		h.process.machine.Wait(waitCtx)
		cancelWait()
	} else if h.PID > 0 {
		syscall.Kill(h.PID, syscall.SIGKILL)
	}

	m.destroyFiles(h)

	if m.cfg.Cgroup != nil {
		if err := m.cfg.Cgroup.Destroy(h.VMID); err != nil && !os.IsNotExist(err) {
			m.cfg.Log.WithError(err).Warnf("cgroup cleanup failed for %s", h.VMID)
		}
	}

	for _, c := range m.cfg.Collaborators {
		c.OnVMDestroyed(h.VMID)
	}

	return nil
}

func (m *Manager) destroyFiles(h *Handle) {
	os.Remove(h.APISocket)
	os.Remove(h.VsockPath)
	// Guest-initiated connections are addressed at {vsock_path}_{port};
	// remove any such listener files for the configured guest port.
	os.Remove(fmt.Sprintf("%s_%d", h.VsockPath, m.cfg.VsockGuestPort))
}
