// Package config holds the ~/.neurovisor/config.toml daemon
// configuration, following the teacher's go-toml/v2 Load/Save/Get/Set
// pattern.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the ~/.neurovisor/config.toml file.
type Config struct {
	Model   string  `toml:"model,omitempty" json:"model"`
	Pool    Pool    `toml:"pool,omitempty" json:"pool"`
	VM      VM      `toml:"vm,omitempty" json:"vm"`
	Cgroup  Cgroup  `toml:"cgroup,omitempty" json:"cgroup"`
	Network Network `toml:"network,omitempty" json:"network"`
}

// Pool holds warm-pool sizing preferences.
type Pool struct {
	WarmSize int `toml:"warm_size,omitempty" json:"warm_size"`
	MaxSize  int `toml:"max_size,omitempty" json:"max_size"`
}

// VM holds default VM image/resource-tier preferences.
type VM struct {
	Size         string `toml:"size,omitempty" json:"size"`
	KernelImage  string `toml:"kernel_image,omitempty" json:"kernel_image"`
	RootfsImage  string `toml:"rootfs_image,omitempty" json:"rootfs_image"`
	SnapshotPath string `toml:"snapshot_path,omitempty" json:"snapshot_path"`
	MemFilePath  string `toml:"mem_file_path,omitempty" json:"mem_file_path"`
}

// Cgroup holds the cgroup v2 namespace this daemon's VMs are created
// under.
type Cgroup struct {
	Root      string `toml:"root,omitempty" json:"root"`
	Namespace string `toml:"namespace,omitempty" json:"namespace"`
}

// Network holds vsock/metrics/OTLP endpoint defaults.
type Network struct {
	VsockPort    uint32 `toml:"vsock_port,omitempty" json:"vsock_port"`
	MetricsAddr  string `toml:"metrics_addr,omitempty" json:"metrics_addr"`
	OTLPEndpoint string `toml:"otlp_endpoint,omitempty" json:"otlp_endpoint"`
}

// configDirOverride is set by the --config-dir flag or NEUROVISOR_HOME
// env var.
var configDirOverride string

// SetConfigDir allows the CLI to pass in the --config-dir /
// NEUROVISOR_HOME value.
func SetConfigDir(dir string) {
	configDirOverride = dir
}

// Home returns the config directory path.
// Precedence: --config-dir flag / SetConfigDir > NEUROVISOR_HOME env > ~/.neurovisor
func Home() string {
	if configDirOverride != "" {
		return configDirOverride
	}
	if v := os.Getenv("NEUROVISOR_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".neurovisor")
	}
	return filepath.Join(home, ".neurovisor")
}

// ConfigPath returns the full path to config.toml.
func ConfigPath() string {
	return filepath.Join(Home(), "config.toml")
}

// EnsureDir creates the daemon's home directory if it does not exist.
func EnsureDir() error {
	return os.MkdirAll(Home(), 0o755)
}

// Default returns the config used when no config.toml exists yet.
func Default() *Config {
	return &Config{
		Model: "qwen3",
		Pool:  Pool{WarmSize: 3, MaxSize: 10},
		VM:    VM{Size: "medium"},
		Cgroup: Cgroup{
			Root:      "/sys/fs/cgroup",
			Namespace: "neurovisor",
		},
		Network: Network{
			VsockPort:    6000,
			MetricsAddr:  ":9090",
			OTLPEndpoint: "localhost:4316",
		},
	}
}

// Load reads config.toml and returns a Config struct, filling unset
// fields with Default()'s values. If the file does not exist, it
// returns Default() unmodified.
func Load() (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config.toml: %w", err)
	}
	return cfg, nil
}

// Save writes the Config struct back to config.toml.
func Save(cfg *Config) error {
	if err := EnsureDir(); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(ConfigPath(), data, 0o644)
}

// validKeys lists the dot-separated keys that can be used with Get/Set.
var validKeys = map[string]bool{
	"model":                true,
	"pool.warm_size":       true,
	"pool.max_size":        true,
	"vm.size":              true,
	"vm.kernel_image":      true,
	"vm.rootfs_image":      true,
	"vm.snapshot_path":     true,
	"vm.mem_file_path":     true,
	"cgroup.root":          true,
	"cgroup.namespace":     true,
	"network.vsock_port":   true,
	"network.metrics_addr": true,
	"network.otlp_endpoint": true,
}

// Get retrieves a single config value by dot-separated key.
func Get(key string) (string, error) {
	if !validKeys[key] {
		return "", fmt.Errorf("unknown config key: %s", key)
	}
	cfg, err := Load()
	if err != nil {
		return "", err
	}
	return getField(cfg, key)
}

// Set sets a single config value by dot-separated key.
func Set(key, value string) error {
	if !validKeys[key] {
		return fmt.Errorf("unknown config key: %s", key)
	}
	cfg, err := Load()
	if err != nil {
		return err
	}
	if err := setField(cfg, key, value); err != nil {
		return err
	}
	return Save(cfg)
}

func getField(cfg *Config, key string) (string, error) {
	switch key {
	case "model":
		return cfg.Model, nil
	case "pool.warm_size":
		return strconv.Itoa(cfg.Pool.WarmSize), nil
	case "pool.max_size":
		return strconv.Itoa(cfg.Pool.MaxSize), nil
	case "vm.size":
		return cfg.VM.Size, nil
	case "vm.kernel_image":
		return cfg.VM.KernelImage, nil
	case "vm.rootfs_image":
		return cfg.VM.RootfsImage, nil
	case "vm.snapshot_path":
		return cfg.VM.SnapshotPath, nil
	case "vm.mem_file_path":
		return cfg.VM.MemFilePath, nil
	case "cgroup.root":
		return cfg.Cgroup.Root, nil
	case "cgroup.namespace":
		return cfg.Cgroup.Namespace, nil
	case "network.vsock_port":
		return strconv.FormatUint(uint64(cfg.Network.VsockPort), 10), nil
	case "network.metrics_addr":
		return cfg.Network.MetricsAddr, nil
	case "network.otlp_endpoint":
		return cfg.Network.OTLPEndpoint, nil
	default:
		return "", fmt.Errorf("unknown config key: %s", key)
	}
}

func setField(cfg *Config, key, value string) error {
	switch key {
	case "model":
		cfg.Model = value
	case "pool.warm_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("pool.warm_size: %w", err)
		}
		cfg.Pool.WarmSize = n
	case "pool.max_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("pool.max_size: %w", err)
		}
		cfg.Pool.MaxSize = n
	case "vm.size":
		cfg.VM.Size = value
	case "vm.kernel_image":
		cfg.VM.KernelImage = value
	case "vm.rootfs_image":
		cfg.VM.RootfsImage = value
	case "vm.snapshot_path":
		cfg.VM.SnapshotPath = value
	case "vm.mem_file_path":
		cfg.VM.MemFilePath = value
	case "cgroup.root":
		cfg.Cgroup.Root = value
	case "cgroup.namespace":
		cfg.Cgroup.Namespace = value
	case "network.vsock_port":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("network.vsock_port: %w", err)
		}
		cfg.Network.VsockPort = uint32(n)
	case "network.metrics_addr":
		cfg.Network.MetricsAddr = value
	case "network.otlp_endpoint":
		cfg.Network.OTLPEndpoint = value
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}
