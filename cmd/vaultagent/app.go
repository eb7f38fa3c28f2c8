package main

import (
	"context"
	"fmt"
	"os/user"
	"path/filepath"

	"github.com/joe/vaultagent/internal/biometric"
	"github.com/joe/vaultagent/internal/credstore"
	"github.com/joe/vaultagent/internal/logging"
	"github.com/joe/vaultagent/internal/securemem"
	"github.com/joe/vaultagent/internal/sshagent"
)

// App coordinates the agent's components: the secure-memory backend, the
// credential store and biometric lock guarding persistent unlock, and the
// SSH agent-protocol server itself.
type App struct {
	config Config

	store      *sshagent.KeyStore
	arbiter    *sshagent.UiArbiter
	knownHosts *sshagent.KnownHostsReader

	agent        *sshagent.Agent
	legacyAgent  *sshagent.Agent
	biometric    *biometric.Lock
	vaultKey     *securemem.SecureEncryptionKey
	arbiterChan  chan sshagent.Request
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg Config) *App {
	return &App{config: cfg}
}

// Start initializes every component and begins serving SSH agent
// connections. It fails closed: any component that cannot be started
// aborts the whole startup, except the optional legacy socket, whose
// failure to start is logged and otherwise ignored.
func (a *App) Start(ctx context.Context) error {
	logging.L.Info("vaultagent starting", "version", a.config.Version)

	backend, err := securemem.New()
	if err != nil {
		return fmt.Errorf("selecting secure memory backend: %w", err)
	}
	logging.L.Info("secure memory backend selected", "variant", backend.Variant())
	if err := backend.Close(); err != nil {
		logging.L.Warn("closing probe backend", "error", err)
	}

	if a.config.BiometricEnabled {
		if err := a.startBiometrics(ctx); err != nil {
			return fmt.Errorf("starting biometric lock: %w", err)
		}
	}

	knownHostsPath := a.config.KnownHostsPath
	if knownHostsPath == "" {
		knownHostsPath = defaultKnownHostsPath()
	}
	a.knownHosts = sshagent.NewKnownHostsReader(knownHostsPath)

	a.arbiterChan = make(chan sshagent.Request, 16)
	a.arbiter = sshagent.NewUiArbiter(a.arbiterChan, a.config.ArbiterTimeout)
	go a.runArbiterFrontend(ctx)

	var initial []sshagent.UnlockedSshItem
	if a.config.KeyDir != "" {
		initial, err = sshagent.LoadFromDirectory(a.config.KeyDir)
		if err != nil {
			return fmt.Errorf("loading keys from %s: %w", a.config.KeyDir, err)
		}
	}
	a.store = sshagent.NewKeyStore(nil)
	if len(initial) > 0 {
		a.store.SetUnlocked(initial)
		logging.L.Info("key store unlocked at startup", "keys", len(initial))
	}

	socketPath := a.config.SocketPath
	if socketPath == "" {
		socketPath = sshagent.DefaultSocketPath()
	}
	a.agent = sshagent.NewAgent(a.store, a.arbiter, a.knownHosts, func() (sshagent.Listener, error) {
		return newPlatformListener(socketPath)
	})
	if err := a.agent.Start(ctx); err != nil {
		return fmt.Errorf("starting SSH agent: %w", err)
	}
	logging.L.Info("SSH agent listening", "socket", a.agent.Addr())

	if a.config.ServeLegacySocket {
		if legacyPath := sshagent.LegacySocketPath(); legacyPath != "" {
			a.legacyAgent = sshagent.NewAgent(a.store, a.arbiter, a.knownHosts, func() (sshagent.Listener, error) {
				return newPlatformListener(legacyPath)
			})
			if err := a.legacyAgent.Start(ctx); err != nil {
				logging.L.Warn("failed to start legacy socket", "path", legacyPath, "error", err)
			} else {
				logging.L.Info("legacy SSH agent socket listening", "socket", legacyPath)
			}
		}
	}

	return nil
}

// startBiometrics wires a credential store and identity provider into a
// biometric.Lock and, on first run, generates and enrolls a fresh vault key.
func (a *App) startBiometrics(ctx context.Context) error {
	store, err := credstore.NewStore()
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}

	authenticator := newPlatformAuthenticator()
	identity := biometric.NewLocalIdentityProvider(store, authenticator, a.config.BiometricAccount)
	a.biometric = biometric.New(store, identity)

	var key *securemem.SecureEncryptionKey
	if a.biometric.UnlockAvailable(ctx, a.config.BiometricAccount) {
		key, err = a.biometric.Unlock(ctx, a.config.BiometricAccount, 0)
		if err != nil {
			return fmt.Errorf("unlocking vault key: %w", err)
		}
	} else {
		logging.L.Info("no persistent vault key enrolled yet, generating one", "account", a.config.BiometricAccount)
		key, err = securemem.GenerateSecureEncryptionKey()
		if err != nil {
			return fmt.Errorf("generating vault key: %w", err)
		}
		if err := a.biometric.EnrollPersistent(ctx, a.config.BiometricAccount, key); err != nil {
			return fmt.Errorf("enrolling vault key: %w", err)
		}
	}
	a.biometric.ProvideKey(a.config.BiometricAccount, key)
	a.vaultKey = key
	return nil
}

// runArbiterFrontend drains arbitration requests and logs them. A real
// front-end would render a prompt and call a.arbiter.Respond; absent one,
// every request is left to time out and fail closed.
func (a *App) runArbiterFrontend(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-a.arbiterChan:
			if !ok {
				return
			}
			logging.L.Warn("arbitration request has no front-end to answer it, will time out",
				"request", req.ID, "action", req.Action, "key", req.KeyComment, "peer_pid", req.Peer.PID)
		}
	}
}

func defaultKnownHostsPath() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return filepath.Join(u.HomeDir, ".ssh", "known_hosts")
}

// Stop shuts down every running component in reverse order.
func (a *App) Stop() error {
	var errs []error

	if a.legacyAgent != nil {
		if err := a.legacyAgent.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("legacy agent: %w", err))
		}
	}
	if a.agent != nil {
		if err := a.agent.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("agent: %w", err))
		}
	}
	if a.vaultKey != nil {
		if err := a.vaultKey.Close(); err != nil {
			errs = append(errs, fmt.Errorf("vault key: %w", err))
		}
	}
	if a.arbiterChan != nil {
		close(a.arbiterChan)
	}

	if len(errs) == 0 {
		return nil
	}
	msg := "shutdown errors:"
	for _, err := range errs {
		msg += " " + err.Error() + ";"
	}
	return fmt.Errorf("%s", msg)
}
