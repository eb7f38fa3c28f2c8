package main

import (
	"flag"
	"fmt"
	"time"
)

const version = "0.1.0"

// Config holds all application configuration for the vaultagent daemon.
type Config struct {
	SocketPath        string
	ServeLegacySocket bool
	KnownHostsPath    string
	KeyDir            string
	ArbiterTimeout    time.Duration
	BiometricEnabled  bool
	BiometricAccount  string
	Debug             bool
	Version           string
}

// ConfigFromArgs parses command-line flags from args and returns a Config.
// It uses a fresh FlagSet per call so it can be exercised repeatedly in
// tests without the "flag redefined" panics that package-level flag.* vars
// would cause.
func ConfigFromArgs(args []string) (Config, error) {
	fs := flag.NewFlagSet("vaultagent", flag.ContinueOnError)

	socketPath := fs.String("socket", "", "SSH agent socket path (default: platform-specific runtime directory)")
	legacySocket := fs.Bool("legacy-socket", true, "Also serve the legacy ~/.bitwarden-ssh-agent.sock path on Unix")
	knownHosts := fs.String("known-hosts", "", "Path to an OpenSSH known_hosts file (default: ~/.ssh/known_hosts)")
	keyDir := fs.String("key-dir", "", "Directory of vault-exported OpenSSH private keys to load on unlock")
	arbiterTimeout := fs.Duration("arbiter-timeout", 60*time.Second, "Timeout for UI arbitration requests before failing closed")
	biometric := fs.Bool("biometric", false, "Enable biometric-gated persistent unlock")
	biometricAccount := fs.String("biometric-account", "default", "Account name under which the persistent biometric key is stored")
	debug := fs.Bool("debug", false, "Enable debug logging")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Config{
		SocketPath:        *socketPath,
		ServeLegacySocket: *legacySocket,
		KnownHostsPath:    *knownHosts,
		KeyDir:            *keyDir,
		ArbiterTimeout:    *arbiterTimeout,
		BiometricEnabled:  *biometric,
		BiometricAccount:  *biometricAccount,
		Debug:             debug != nil && *debug,
		Version:           version,
	}

	if err := validateConfig(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg *Config) error {
	if cfg.ArbiterTimeout <= 0 {
		return fmt.Errorf("--arbiter-timeout must be positive, got: %s", cfg.ArbiterTimeout)
	}
	if cfg.BiometricEnabled && cfg.BiometricAccount == "" {
		return fmt.Errorf("--biometric-account must not be empty when --biometric is set")
	}
	return nil
}
