// Package security documents the capability and seccomp posture this
// repository expects the Firecracker supervisor process to run under.
// It is descriptive, not enforcing: spec.md's Non-goals and the
// governing process both treat actual capability-dropping/seccomp-BPF
// installation as out of core-correctness scope for this repo, ported
// from original_source's security/{capabilities,seccomp}.rs as a
// reference the operator's deployment tooling (systemd unit, container
// runtime) is expected to apply.
package security

// Capability is a documented Linux capability name, e.g. "CAP_SYS_ADMIN".
type Capability string

// RecommendedDrops is the capability set original_source's
// CapabilityDropper::with_firecracker_drops() removes before running
// Firecracker: the capabilities listed below. CAP_DAC_OVERRIDE (needed
// for /dev/kvm, /dev/net/tun) and CAP_SYS_RESOURCE (memory limits) are
// kept; capabilities not listed here are not dropped either.
var RecommendedDrops = []Capability{
	"CAP_SYS_ADMIN",
	"CAP_SYS_PTRACE",
	"CAP_SYS_MODULE",
	"CAP_SYS_BOOT",
	"CAP_SYS_RAWIO",
	"CAP_SYS_CHROOT",
	"CAP_NET_ADMIN",
	"CAP_NET_RAW",
	"CAP_SETUID",
	"CAP_SETGID",
	"CAP_SETPCAP",
	"CAP_CHOWN",
	"CAP_MKNOD",
	"CAP_FSETID",
	"CAP_AUDIT_WRITE",
	"CAP_AUDIT_CONTROL",
	"CAP_SYSLOG",
	"CAP_WAKE_ALARM",
	"CAP_LEASE",
	"CAP_MAC_ADMIN",
	"CAP_MAC_OVERRIDE",
	"CAP_LINUX_IMMUTABLE",
}

// RecommendedKept is the minimal set Firecracker actually needs.
var RecommendedKept = []Capability{
	"CAP_DAC_OVERRIDE",
	"CAP_SYS_RESOURCE",
}

// AllowedSyscall names one entry of the seccomp allowlist
// original_source's FirecrackerSeccomp::with_firecracker_defaults()
// builds, grouped by why Firecracker needs it.
type AllowedSyscall struct {
	Name   string
	Reason string
}

// RecommendedSeccompAllowlist is the syscall allowlist a production
// deployment's seccomp-bpf filter should apply to the Firecracker
// child process.
var RecommendedSeccompAllowlist = []AllowedSyscall{
	{"read", "guest memory / vsock I/O"},
	{"write", "guest memory / vsock I/O"},
	{"close", "fd lifecycle"},
	{"mmap", "guest memory mapping"},
	{"munmap", "guest memory mapping"},
	{"mprotect", "guest memory mapping"},
	{"ioctl", "KVM_RUN and friends"},
	{"futex", "threading"},
	{"epoll_wait", "vsock/api event loop"},
	{"epoll_ctl", "vsock/api event loop"},
	{"clock_gettime", "timers"},
	{"exit", "thread/process exit"},
	{"exit_group", "process exit"},
	{"rt_sigreturn", "signal handling"},
	{"openat", "device and drive files"},
	{"fstat", "file metadata"},
	{"pread64", "snapshot/drive I/O"},
	{"pwrite64", "snapshot/drive I/O"},
}

// Report summarizes the posture this process was asked to run under,
// for --verbose startup logging; it never inspects or changes the
// process's actual capability/seccomp state.
type Report struct {
	DropsRecommended    []Capability
	KeepsRecommended    []Capability
	SeccompAllowlistLen int
}

func DescribeRecommendedPosture() Report {
	return Report{
		DropsRecommended:    RecommendedDrops,
		KeepsRecommended:    RecommendedKept,
		SeccompAllowlistLen: len(RecommendedSeccompAllowlist),
	}
}
