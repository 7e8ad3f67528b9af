package vm

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// statfsType returns the filesystem magic number statfs(2) reports for
// path. A package variable so tests can substitute a fake cgroup2 magic
// for their t.TempDir() fixtures, which are never themselves a real
// cgroupfs mount.
var statfsType = func(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Type), nil
}

// CgroupManager binds each VM's Firecracker process to a cgroup v2
// directory under root, enforcing ResourceLimits. Grounded on
// original_source's cgroups/manager.rs: one subtree-control write at
// init, then per-VM cpu.max/memory.max/cgroup.procs writes.
type CgroupManager struct {
	root string
}

// NewCgroupManager creates root and enables the cpu/memory controllers on
// its subtree exactly once. If the cgroup v2 hierarchy is unavailable
// (missing root, wrong cgroup version, WSL), it returns an error — the
// caller must log and continue without limits per spec.md §4.2; cgroups
// are never required for correctness.
func NewCgroupManager(root string) (*CgroupManager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("cgroup root %s: %w", root, err)
	}

	// Confirm the mount actually is cgroup v2, not v1 mounted at the same
	// path (the "wrong cgroup version" failure mode spec.md §4.2 names
	// explicitly) — statfs's magic number is the standard way to tell the
	// two apart, grounded on kata-containers' pkg/cgroups/utils.go use of
	// the same unix.Stat-family syscalls for filesystem introspection.
	magic, err := statfsType(root)
	if err != nil {
		return nil, fmt.Errorf("statfs cgroup root %s: %w", root, err)
	}
	if magic != unix.CGROUP2_SUPER_MAGIC {
		return nil, fmt.Errorf("cgroup root %s is not a cgroup v2 mount (statfs type %#x)", root, magic)
	}

	subtreeControl := filepath.Join(root, "cgroup.subtree_control")
	if err := os.WriteFile(subtreeControl, []byte("+cpu +memory"), 0o644); err != nil {
		return nil, fmt.Errorf("enabling cpu/memory controllers: %w", err)
	}
	return &CgroupManager{root: root}, nil
}

func (m *CgroupManager) dir(vmID string) string {
	return filepath.Join(m.root, vmID)
}

// Create makes the per-VM cgroup directory and writes its CPU/memory
// limits. Must be called before AddProcess.
func (m *CgroupManager) Create(vmID string, limits ResourceLimits) error {
	dir := m.dir(vmID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cgroup dir for %s: %w", vmID, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cpu.max"), []byte(limits.CPUMax()), 0o644); err != nil {
		return fmt.Errorf("writing cpu.max for %s: %w", vmID, err)
	}
	mem := fmt.Sprintf("%d", limits.MemoryBytes)
	if err := os.WriteFile(filepath.Join(dir, "memory.max"), []byte(mem), 0o644); err != nil {
		return fmt.Errorf("writing memory.max for %s: %w", vmID, err)
	}
	return nil
}

// AddProcess registers pid with the VM's cgroup.
func (m *CgroupManager) AddProcess(vmID string, pid int) error {
	path := filepath.Join(m.dir(vmID), "cgroup.procs")
	return os.WriteFile(path, []byte(fmt.Sprintf("%d", pid)), 0o644)
}

// Destroy removes the cgroup directory. Fails if a process is still a
// member — the caller must kill the VM's process before calling this.
func (m *CgroupManager) Destroy(vmID string) error {
	return os.Remove(m.dir(vmID))
}
