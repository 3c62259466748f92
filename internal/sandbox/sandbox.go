package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Sandbox provides isolated execution of commands. label correlates the
// spawned process with the ack request that triggered it (persona +
// command id): it is exported to the child as SHELLDONE_SANDBOX_LABEL and,
// on Linux, names the per-exec cgroup and appears in its log lines.
type Sandbox interface {
	Exec(ctx context.Context, name string, args []string, label string) (*exec.Cmd, error)
	PostStart(pid int) error // apply rlimits etc. after process starts
	Destroy() error
}

// Mount describes a filesystem mount for the sandbox.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Config holds sandbox creation parameters.
type Config struct {
	NetworkNeed NetworkNeed
	Domains     []string // allowed outbound domains when NetworkNeed == NetworkHTTPS
	Mounts      []Mount
	Deny        []string      // paths to mask entirely (no read, no write)
	DenyWrite   []string      // paths readable but not writable
	Timeout     time.Duration
	CPULimit    time.Duration // RLIMIT_CPU (0 = backend default)
	MemLimit    uint64        // RLIMIT_AS in bytes (0 = backend default)
	MaxFDs      uint32        // RLIMIT_NOFILE (0 = backend default)
	PidLimit    uint32        // cgroup pids.max on Linux (0 = backend default)
}

// EnforcementError is returned when the system cannot enforce the requested sandbox config.
type EnforcementError struct {
	Gaps     []string
	Platform string
}

func (e *EnforcementError) Error() string {
	msg := "system incapable of enforcing: " + strings.Join(e.Gaps, ", ")
	if e.Platform != "" {
		msg += ". " + e.Platform
	}
	return msg
}

// New creates a platform-appropriate sandbox. Returns EnforcementError if the
// platform cannot enforce the requested isolation - no silent fallback.
func New(cfg Config) (Sandbox, error) {
	s, err := newPlatform(cfg)
	if err == nil {
		return s, nil
	}
	return nil, newEnforcementError(cfg, err)
}

func newEnforcementError(cfg Config, platformErr error) *EnforcementError {
	var gaps []string
	if cfg.NetworkNeed < NetworkFull {
		gaps = append(gaps, "network isolation")
	}
	gaps = append(gaps, "filesystem isolation")
	if len(cfg.Deny) > 0 {
		gaps = append(gaps, fmt.Sprintf("deny paths (%d)", len(cfg.Deny)))
	}
	if len(cfg.DenyWrite) > 0 {
		gaps = append(gaps, fmt.Sprintf("deny-write paths (%d)", len(cfg.DenyWrite)))
	}
	if cfg.CPULimit > 0 || cfg.MemLimit > 0 || cfg.MaxFDs > 0 || cfg.PidLimit > 0 {
		gaps = append(gaps, "resource limits")
	}
	if cfg.NetworkNeed == NetworkHTTPS && len(cfg.Domains) > 0 {
		gaps = append(gaps, fmt.Sprintf("domain allowlist (%d)", len(cfg.Domains)))
	}
	return &EnforcementError{
		Gaps:     gaps,
		Platform: platformHelp(),
	}
}

func platformHelp() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS: requires sandbox-exec (ships with the OS)"
	case "linux":
		return "Linux: requires root or CAP_SYS_ADMIN (try: sudo setcap cap_sys_admin+ep /path/to/shelldoned)"
	default:
		return fmt.Sprintf("platform %s: no sandbox backend available", runtime.GOOS)
	}
}
