package vm

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNextCID_MonotonicAndNeverReserved(t *testing.T) {
	seen := make(map[uint32]bool)
	var prev uint32
	for i := 0; i < 50; i++ {
		cid := nextCID()
		if cid <= 2 {
			t.Fatalf("nextCID() = %d, want > 2 (0/1/2 are reserved)", cid)
		}
		if cid <= prev {
			t.Fatalf("nextCID() = %d, want strictly greater than previous %d", cid, prev)
		}
		if seen[cid] {
			t.Fatalf("nextCID() returned %d twice", cid)
		}
		seen[cid] = true
		prev = cid
	}
}

func TestManager_DestroyFilesRemovesApiSocketAndVsockPaths(t *testing.T) {
	dir := t.TempDir()
	apiSocket := filepath.Join(dir, "fc.sock")
	vsockPath := filepath.Join(dir, "fc.vsock")
	guestPortFile := vsockPath + "_52"

	for _, p := range []string{apiSocket, vsockPath, guestPortFile} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("seeding %s: %v", p, err)
		}
	}

	m := &Manager{cfg: ManagerConfig{VsockGuestPort: 52}}
	h := &Handle{APISocket: apiSocket, VsockPath: vsockPath}
	m.destroyFiles(h)

	for _, p := range []string{apiSocket, vsockPath, guestPortFile} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s still exists after destroyFiles", p)
		}
	}
}

func TestManager_DestroyFilesIsIdempotentOnMissingFiles(t *testing.T) {
	dir := t.TempDir()
	m := &Manager{cfg: ManagerConfig{VsockGuestPort: 52}}
	h := &Handle{
		APISocket: filepath.Join(dir, "missing.sock"),
		VsockPath: filepath.Join(dir, "missing.vsock"),
	}

	// Should not panic or error even though none of these files exist.
	m.destroyFiles(h)
}

func TestVmBootTimeout_ErrorMentionsVMID(t *testing.T) {
	err := &VmBootTimeout{VMID: "vm-abc123"}
	if got := err.Error(); got == "" {
		t.Fatal("Error() returned empty string")
	}
}
