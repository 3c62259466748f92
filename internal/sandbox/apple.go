//go:build darwin

package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// seatbeltSandbox isolates a command with macOS's sandbox-exec, generating
// an SBPL profile from Config rather than shelling out to a container
// runtime — no extra daemon or CLI dependency beyond what ships with macOS.
type seatbeltSandbox struct {
	cfg     Config
	profile string
	tmpDir  string
}

// newPlatform builds a seatbelt profile for cfg and returns a sandbox that
// runs commands under it. Returns an error if sandbox-exec is unavailable.
func newPlatform(cfg Config) (Sandbox, error) {
	if _, err := exec.LookPath("sandbox-exec"); err != nil {
		return nil, fmt.Errorf("sandbox-exec not available: %w", err)
	}
	dir, err := os.MkdirTemp("", "shelldone-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("create sandbox tmpdir: %w", err)
	}
	return &seatbeltSandbox{cfg: cfg, profile: buildProfile(cfg), tmpDir: dir}, nil
}

func (s *seatbeltSandbox) Exec(ctx context.Context, name string, args []string, label string) (*exec.Cmd, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		_ = cancel // caller owns the cmd lifecycle; context handles TTL
	}
	execArgs := append([]string{"-p", s.profile, name}, args...)
	cmd := exec.CommandContext(ctx, "sandbox-exec", execArgs...)
	cmd.Dir = s.tmpDir
	cmd.Env = append(os.Environ(), "SHELLDONE_SANDBOX_LABEL="+label)
	return cmd, nil
}

func (s *seatbeltSandbox) PostStart(pid int) error {
	return nil // seatbelt enforces at exec time; nothing left to apply post-start
}

func (s *seatbeltSandbox) Destroy() error {
	return os.RemoveAll(s.tmpDir)
}

// buildProfile renders an SBPL profile string for cfg: network access gated
// by NetworkNeed (loopback stays reachable at Local/HTTPS so the domain
// allowlist proxy can still be dialed), the user's home directory denied for
// writes except under configured mounts, Deny paths blocked for both read
// and write, and DenyWrite paths blocked for write only.
func buildProfile(cfg Config) string {
	var b strings.Builder
	b.WriteString("(version 1)\n(allow default)\n")

	switch {
	case cfg.NetworkNeed >= NetworkFull:
		// no network restriction
	case cfg.NetworkNeed >= NetworkLocal:
		b.WriteString("(deny network*)\n(allow network* (remote ip \"localhost:*\"))\n")
	default:
		b.WriteString("(deny network*)\n")
	}

	if home, err := os.UserHomeDir(); err == nil && home != "" {
		fmt.Fprintf(&b, "(deny file-write* (subpath %q))\n", home)
		for _, m := range cfg.Mounts {
			fmt.Fprintf(&b, "(allow file-write* (subpath %q))\n", m.Target)
		}
	}

	for _, d := range cfg.Deny {
		fmt.Fprintf(&b, "(deny file-read* (subpath %q))\n", d)
		fmt.Fprintf(&b, "(deny file-write* (subpath %q))\n", d)
	}
	for _, d := range cfg.DenyWrite {
		fmt.Fprintf(&b, "(deny file-write* (literal %q))\n", d)
	}

	return b.String()
}
