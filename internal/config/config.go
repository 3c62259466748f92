// Package config loads the daemon's on-disk settings file and applies
// built-in defaults for anything it omits.
package config

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iMAGRAY/shelldone/internal/authtoken"
)

// Config is the full set of settings shelldoned needs to start: where it
// keeps state, how it talks to clients, and which policy/TLS material to
// load.
type Config struct {
	StateDir string         `yaml:"state_dir"`
	CacheDir string         `yaml:"cache_dir"`
	LogLevel string         `yaml:"log_level"`
	LogFile  string         `yaml:"log_file,omitempty"`
	Listen   string         `yaml:"listen"`
	Policy   PolicyConfig   `yaml:"policy"`
	TLS      TLSConfig      `yaml:"tls"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	JWT      JWTConfig      `yaml:"jwt,omitempty"`
}

// JWTConfig points at an optional on-disk, passphrase-sealed ES256 signing
// key (see internal/authtoken.SealPrivateKey) used instead of the
// SHELLDONE_JWT_KEY env var. Both KeyFile and KeyPassphraseEnv must be set
// for LoadJWTKey to use the file; otherwise callers fall back to the env var.
type JWTConfig struct {
	KeyFile          string `yaml:"key_file,omitempty"`
	KeyPassphraseEnv string `yaml:"key_passphrase_env,omitempty"`
}

// PolicyConfig points at the Rego bundle the policy engine loads and
// hot-reloads on change.
type PolicyConfig struct {
	BundlePath string `yaml:"bundle_path"`
	Disabled   bool   `yaml:"disabled,omitempty"`
}

// TLSConfig describes the server identity and cipher policy the transport
// layer loads via internal/tlsloader.
type TLSConfig struct {
	CertPath     string `yaml:"cert_path"`
	KeyPath      string `yaml:"key_path"`
	CAPath       string `yaml:"ca_path,omitempty"`
	CipherPolicy string `yaml:"cipher_policy"` // strict | balanced | legacy
}

// SnapshotConfig holds the snapshot settings read from the settings file.
// daemon.build does not read it: the continuum store always snapshots at
// its built-in default event interval.
type SnapshotConfig struct {
	Interval   time.Duration `yaml:"interval"`
	RetainLast int           `yaml:"retain_last"`
}

// SandboxConfig holds the sandbox settings read from the settings file.
// daemon.build uses only DenyPath; Level is parsed but not read, and the
// daemon's sandbox runner always runs commands with no network access.
type SandboxConfig struct {
	Level    string   `yaml:"level"` // strict | standard | network | privileged
	DenyPath []string `yaml:"deny_paths,omitempty"`
}

// Default returns the restrictive built-in configuration used when no
// settings file exists.
func Default() *Config {
	return &Config{
		StateDir: "/var/lib/shelldoned",
		CacheDir: "/var/cache/shelldoned",
		LogLevel: "info",
		Listen:   "127.0.0.1:8843",
		Policy: PolicyConfig{
			BundlePath: "/etc/shelldoned/policy",
		},
		TLS: TLSConfig{
			CipherPolicy: "balanced",
		},
		Snapshot: SnapshotConfig{
			Interval:   10 * time.Minute,
			RetainLast: 5,
		},
		Sandbox: SandboxConfig{
			Level:    "standard",
			DenyPath: []string{"~/.ssh", "~/.gnupg", "~/.aws", "~/.netrc"},
		},
	}
}

// Load reads path as YAML and merges it on top of Default. A missing file
// is not an error — the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadJWTKey resolves the daemon's ES256 signing key: from the sealed file
// named by cfg.JWT.KeyFile when both it and KeyPassphraseEnv are set,
// otherwise from the SHELLDONE_JWT_KEY env var via authtoken.ParseECKeyFromEnv.
func LoadJWTKey(cfg *Config) (*ecdsa.PrivateKey, error) {
	if cfg.JWT.KeyFile != "" && cfg.JWT.KeyPassphraseEnv != "" {
		sealed, err := os.ReadFile(cfg.JWT.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read jwt key file: %w", err)
		}
		passphrase := os.Getenv(cfg.JWT.KeyPassphraseEnv)
		if passphrase == "" {
			return nil, fmt.Errorf("jwt key passphrase env %q is unset", cfg.JWT.KeyPassphraseEnv)
		}
		key, err := authtoken.OpenPrivateKey(string(sealed), passphrase)
		if err != nil {
			return nil, fmt.Errorf("open sealed jwt key: %w", err)
		}
		return key, nil
	}
	return authtoken.ParseECKeyFromEnv(os.Getenv("SHELLDONE_JWT_KEY"))
}

// ExpandHome resolves a leading "~/" against the current user's home
// directory, matching the shorthand used in deny-path lists.
func ExpandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
