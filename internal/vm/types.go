// Package vm implements Firecracker microVM lifecycle management: a typed
// API client, a cgroup-bound VM manager, and a warm pool that hands out
// one-shot VMs to callers.
package vm

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a VMHandle. Transitions are monotone
// except Failed, which is terminal.
type Status int

const (
	StatusStarting Status = iota
	StatusReady
	StatusActive
	StatusStopping
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusReady:
		return "ready"
	case StatusActive:
		return "active"
	case StatusStopping:
		return "stopping"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handle is the owned record of one VM's resources. It is owned by exactly
// one place at a time: a warm pool slot, an active caller, or the
// destruction path. CIDs are never reused; api socket and vsock paths are
// unique per VMID.
type Handle struct {
	VMID        string
	CID         uint32
	PID         int
	APISocket   string
	VsockPath   string
	Status      Status
	FailReason  string
	CreatedAt   time.Time
	BootLatency time.Duration

	process *firecrackerProcess
}

func (h *Handle) String() string {
	return fmt.Sprintf("vm{id=%s cid=%d status=%s}", h.VMID, h.CID, h.Status)
}

// ResourceLimits describes the cgroup CPU/memory tier assigned to a VM.
// CPU is translated to the kernel cgroup v2 representation as
// "{quota_us} {period_us}" with the period fixed at 100000us.
type ResourceLimits struct {
	CPUCores    float64
	MemoryBytes uint64
}

func SmallLimits() ResourceLimits  { return ResourceLimits{CPUCores: 1, MemoryBytes: 2 << 30} }
func MediumLimits() ResourceLimits { return ResourceLimits{CPUCores: 2, MemoryBytes: 4 << 30} }
func LargeLimits() ResourceLimits  { return ResourceLimits{CPUCores: 4, MemoryBytes: 8 << 30} }

func CustomLimits(cpuCores float64, memoryBytes uint64) ResourceLimits {
	return ResourceLimits{CPUCores: cpuCores, MemoryBytes: memoryBytes}
}

// LimitsForSize resolves the --size CLI tier to a ResourceLimits value.
func LimitsForSize(size string) (ResourceLimits, error) {
	switch size {
	case "small":
		return SmallLimits(), nil
	case "medium", "":
		return MediumLimits(), nil
	case "large":
		return LargeLimits(), nil
	default:
		return ResourceLimits{}, fmt.Errorf("unknown vm size tier: %q", size)
	}
}

const cgroupPeriodUs = 100000

// CPUMax renders the cgroup v2 cpu.max value for these limits.
func (r ResourceLimits) CPUMax() string {
	quotaUs := uint64(r.CPUCores * cgroupPeriodUs)
	return fmt.Sprintf("%d %d", quotaUs, cgroupPeriodUs)
}

// PoolStats is a read-only snapshot of VM pool occupancy.
type PoolStats struct {
	WarmCount      int
	ActiveCount    int
	MaxPoolSize    int
	TotalCreated   uint64
	TotalDestroyed uint64
}
