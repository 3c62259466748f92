package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/iMAGRAY/shelldone/internal/ack"
)

// Runner adapts a Sandbox into an ack.CommandRunner, giving ACK a hardened
// default execution backend instead of bare os/exec. One Runner wraps one
// Sandbox instance and is safe for concurrent use; the underlying Sandbox
// itself serializes nothing, so callers that need per-command isolation
// should construct one Runner per Config rather than sharing mounts across
// unrelated commands.
//
// When cfg.NetworkNeed is NetworkHTTPS and cfg.Domains is non-empty, the
// Runner also owns a DomainProxy: every command it runs gets HTTP_PROXY /
// HTTPS_PROXY pointed at that proxy instead of reaching the network
// directly, so the domain allowlist is enforced regardless of what the
// sandboxed process tries to talk to.
type Runner struct {
	mu    sync.Mutex
	sb    Sandbox
	cfg   Config
	proxy *DomainProxy
}

// NewRunner builds the platform sandbox described by cfg and returns an
// ack.CommandRunner backed by it. Callers that cannot tolerate an
// EnforcementError (no isolation available on this host) should fall back
// to ack.OSCommandRunner themselves; NewRunner does not downgrade silently.
func NewRunner(cfg Config) (*Runner, error) {
	sb, err := New(cfg)
	if err != nil {
		return nil, err
	}
	r := &Runner{sb: sb, cfg: cfg}
	if cfg.NetworkNeed == NetworkHTTPS && len(cfg.Domains) > 0 {
		proxy, err := StartProxy(cfg.Domains)
		if err != nil {
			return nil, fmt.Errorf("sandbox runner: start domain proxy: %w", err)
		}
		r.proxy = proxy
	}
	return r, nil
}

// Run executes args.Cmd inside the sandbox, applying rlimits via PostStart
// once the process exists. Run does not tear the sandbox down: every call
// reuses the same Sandbox and its tmpdir, which only Close removes.
func (r *Runner) Run(ctx context.Context, args ack.CommandArgs) (ack.RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	shell, shellArg := "/bin/sh", "-c"
	if args.Shell != "" {
		shell = args.Shell
	}

	label := args.Label
	if label == "" {
		label = "unlabeled"
	}

	cmd, err := r.sb.Exec(ctx, shell, []string{shellArg, args.Cmd}, label)
	if err != nil {
		return ack.RunResult{}, fmt.Errorf("sandbox exec: %w", err)
	}
	if args.Cwd != "" {
		cmd.Dir = args.Cwd
	}
	env := append([]string{}, cmd.Env...)
	if r.proxy != nil {
		proxyURL := fmt.Sprintf("http://127.0.0.1:%d", r.proxy.Port())
		env = append(env, "HTTP_PROXY="+proxyURL, "HTTPS_PROXY="+proxyURL,
			"http_proxy="+proxyURL, "https_proxy="+proxyURL)
	}
	if len(args.Env) > 0 {
		for k, v := range args.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
	}
	if len(env) > 0 {
		cmd.Env = env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return ack.RunResult{}, fmt.Errorf("sandbox start: %w", err)
	}
	if err := r.sb.PostStart(cmd.Process.Pid); err != nil {
		_ = cmd.Process.Kill()
		cmd.Wait()
		return ack.RunResult{}, fmt.Errorf("sandbox post-start: %w", err)
	}

	cmd.Wait()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	return ack.RunResult{ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// Close tears down the sandbox (removing its tmpdir / cgroup / namespace
// resources). Callers that construct one Runner per command should call
// this once the command has finished; a daemon that keeps a long-lived
// Runner around for process-level isolation only may skip it until shutdown.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proxy != nil {
		r.proxy.Close()
	}
	return r.sb.Destroy()
}
