package config

import (
	"testing"
)

// withTempConfigDir points the package's global config directory at a
// fresh temp dir for the duration of the test and restores it after.
func withTempConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	prev := configDirOverride
	SetConfigDir(dir)
	t.Cleanup(func() { SetConfigDir(prev) })
	return dir
}

func TestLoad_NoFileReturnsDefault(t *testing.T) {
	withTempConfigDir(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if cfg.Model != want.Model || cfg.Pool != want.Pool || cfg.VM != want.VM {
		t.Errorf("Load() with no file = %+v, want Default() %+v", cfg, want)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	withTempConfigDir(t)

	cfg := Default()
	cfg.Model = "custom-model"
	cfg.Pool.WarmSize = 7

	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Model != "custom-model" {
		t.Errorf("Model = %q, want custom-model", loaded.Model)
	}
	if loaded.Pool.WarmSize != 7 {
		t.Errorf("Pool.WarmSize = %d, want 7", loaded.Pool.WarmSize)
	}
}

func TestGetSet_ValidKeyRoundTrips(t *testing.T) {
	withTempConfigDir(t)

	if err := Set("pool.warm_size", "9"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := Get("pool.warm_size")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "9" {
		t.Errorf("Get(pool.warm_size) = %q, want 9", got)
	}
}

func TestGet_UnknownKeyErrors(t *testing.T) {
	withTempConfigDir(t)

	if _, err := Get("not.a.real.key"); err == nil {
		t.Fatal("expected an error for an unknown config key")
	}
}

func TestSet_UnknownKeyErrors(t *testing.T) {
	withTempConfigDir(t)

	if err := Set("not.a.real.key", "value"); err == nil {
		t.Fatal("expected an error for an unknown config key")
	}
}

func TestSet_InvalidIntValueErrors(t *testing.T) {
	withTempConfigDir(t)

	if err := Set("pool.warm_size", "not-a-number"); err == nil {
		t.Fatal("expected an error setting a non-numeric warm_size")
	}
}

func TestSet_InvalidVsockPortErrors(t *testing.T) {
	withTempConfigDir(t)

	if err := Set("network.vsock_port", "not-a-port"); err == nil {
		t.Fatal("expected an error setting a non-numeric vsock_port")
	}
}

func TestGetSet_AllValidKeysRoundTrip(t *testing.T) {
	withTempConfigDir(t)

	cases := map[string]string{
		"model":                 "qwen3",
		"pool.warm_size":        "4",
		"pool.max_size":         "12",
		"vm.size":               "large",
		"vm.kernel_image":       "/var/lib/neurovisor/vmlinux",
		"vm.rootfs_image":       "/var/lib/neurovisor/rootfs.ext4",
		"vm.snapshot_path":      "/var/lib/neurovisor/snap",
		"vm.mem_file_path":      "/var/lib/neurovisor/mem",
		"cgroup.root":           "/sys/fs/cgroup",
		"cgroup.namespace":      "neurovisor-test",
		"network.vsock_port":    "7000",
		"network.metrics_addr":  ":9999",
		"network.otlp_endpoint": "otel.internal:4317",
	}

	for key, value := range cases {
		if err := Set(key, value); err != nil {
			t.Fatalf("Set(%s, %s): %v", key, value, err)
		}
		got, err := Get(key)
		if err != nil {
			t.Fatalf("Get(%s): %v", key, err)
		}
		if got != value {
			t.Errorf("Get(%s) = %q, want %q", key, got, value)
		}
	}
}

func TestEnsureDir_CreatesHomeDirectory(t *testing.T) {
	dir := withTempConfigDir(t)

	if err := EnsureDir(); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	if Home() != dir {
		t.Fatalf("Home() = %q, want %q", Home(), dir)
	}
}
