// Package daemon wires the policy engine, continuum journal, approval
// registry, ACK service, MCP bridge, Σ-reporter, and TLS loader together
// into a single long-running process and manages its lifecycle.
package daemon

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iMAGRAY/shelldone/internal/ack"
	"github.com/iMAGRAY/shelldone/internal/approval"
	"github.com/iMAGRAY/shelldone/internal/config"
	"github.com/iMAGRAY/shelldone/internal/continuum"
	"github.com/iMAGRAY/shelldone/internal/logger"
	"github.com/iMAGRAY/shelldone/internal/mcpsession"
	"github.com/iMAGRAY/shelldone/internal/policy"
	"github.com/iMAGRAY/shelldone/internal/reporter"
	"github.com/iMAGRAY/shelldone/internal/sandbox"
	"github.com/iMAGRAY/shelldone/internal/sessionstore"
	"github.com/iMAGRAY/shelldone/internal/tlsloader"
)

// Daemon holds every long-lived component the process wires together.
type Daemon struct {
	Config   *config.Config
	Sessions *sessionstore.Store
	Policy   *policy.Engine
	Journal  *continuum.Store
	Bridge   *mcpsession.Bridge
	Reporter *reporter.Pipeline
	TLS      *tlsloader.Snapshot
	JWTKey   *ecdsa.PrivateKey // signs persona JWTs issued to MCP clients; nil if unconfigured

	sandboxRunner *sandbox.Runner
	stopWatch     func()
}

// Run builds every component from cfg, starts the background workers, and
// blocks until it receives SIGTERM or SIGINT. A component that fails after
// build does not end Run.
func Run(cfg *config.Config, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	d, err := build(cfg, log)
	if err != nil {
		return fmt.Errorf("build daemon: %w", err)
	}
	defer d.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	if d.Reporter != nil {
		d.Reporter.Start()
	}

	log.Info("shelldoned started", "listen", cfg.Listen, "state_dir", cfg.StateDir)

	sig := <-sigCh
	log.Info("received signal, shutting down", "signal", sig.String())
	time.Sleep(500 * time.Millisecond)

	return nil
}

func build(cfg *config.Config, log *slog.Logger) (*Daemon, error) {
	sessions, err := sessionstore.Open(cfg.StateDir + "/sessions.db")
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	policyEngine, err := policy.NewEngine(cfg.Policy.BundlePath, logger.Component("policy"))
	if err != nil {
		sessions.Close()
		return nil, fmt.Errorf("load policy: %w", err)
	}
	stopWatch, err := policyEngine.Watch()
	if err != nil {
		sessions.Close()
		return nil, fmt.Errorf("watch policy: %w", err)
	}

	journal := continuum.NewStore(cfg.StateDir, 0, logger.Component("continuum"))

	approvals, err := approval.NewRegistry(cfg.StateDir)
	if err != nil {
		stopWatch()
		sessions.Close()
		return nil, fmt.Errorf("open approval registry: %w", err)
	}

	denyPaths := make([]string, 0, len(cfg.Sandbox.DenyPath))
	for _, p := range cfg.Sandbox.DenyPath {
		denyPaths = append(denyPaths, config.ExpandHome(p))
	}
	var runner ack.CommandRunner = ack.OSCommandRunner{}
	sandboxRunner, err := sandbox.NewRunner(sandbox.Config{
		NetworkNeed: sandbox.NetworkNone,
		Deny:        denyPaths,
	})
	if err != nil {
		log.Warn("sandbox unavailable, falling back to unsandboxed execution", "error", err)
	} else {
		runner = sandboxRunner
	}

	ackSvc := ack.New(policyEngine, journal, approvals, runner, logger.Component("ack"))
	bridge := mcpsession.NewBridge(sessions, ackSvc)

	reporterPipeline, _ := reporter.New(cfg.CacheDir, logger.Component("reporter"))

	var jwtKey *ecdsa.PrivateKey
	if cfg.JWT.KeyFile != "" || os.Getenv("SHELLDONE_JWT_KEY") != "" {
		jwtKey, err = config.LoadJWTKey(cfg)
		if err != nil {
			log.Warn("jwt key unavailable, persona tokens cannot be issued or verified", "error", err)
		}
	}

	var tlsSnap *tlsloader.Snapshot
	if cfg.TLS.CertPath != "" {
		tlsSnap, err = tlsloader.Load(context.Background(), cfg.TLS.CertPath, cfg.TLS.KeyPath, cfg.TLS.CAPath,
			tlsloader.CipherPolicy(cfg.TLS.CipherPolicy), cfg.Listen, policyEngine)
		if err != nil {
			stopWatch()
			if sandboxRunner != nil {
				sandboxRunner.Close()
			}
			sessions.Close()
			return nil, fmt.Errorf("load tls material: %w", err)
		}
	}

	return &Daemon{
		Config:        cfg,
		Sessions:      sessions,
		Policy:        policyEngine,
		Journal:       journal,
		Bridge:        bridge,
		Reporter:      reporterPipeline,
		TLS:           tlsSnap,
		JWTKey:        jwtKey,
		sandboxRunner: sandboxRunner,
		stopWatch:     stopWatch,
	}, nil
}

// Close stops background workers and releases every resource build opened.
func (d *Daemon) Close() {
	if d.stopWatch != nil {
		d.stopWatch()
	}
	if d.Reporter != nil {
		d.Reporter.Stop()
	}
	if d.sandboxRunner != nil {
		d.sandboxRunner.Close()
	}
	if d.Sessions != nil {
		d.Sessions.Close()
	}
}
