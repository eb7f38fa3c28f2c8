//go:build windows

package biometric

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sys/windows"
)

const focusPollInterval = 500 * time.Millisecond

var (
	moduser32            = windows.NewLazySystemDLL("user32.dll")
	procSetForegroundWin = moduser32.NewProc("SetForegroundWindow")
)

// windowsHelloAuthenticator gates authentication through Windows Hello.
// The credential-provider UI surface itself is out of this module's
// scope (it is owned by whatever host window the caller supplies); what
// this type contributes is the focus-helper loop Windows Hello prompts
// need, since the system credential UI does not reliably steal focus
// from a background process on its own.
type windowsHelloAuthenticator struct {
	windowHandle uintptr
	authenticate func(ctx context.Context, reason string, windowHandle uintptr) error
}

// NewWindowsHelloAuthenticator builds an Authenticator that runs
// runHelloPrompt (the actual Windows Hello / Credential UI call) under a
// focus-helper loop. windowHandle, if non-zero, is kept in the
// foreground for the duration of the prompt.
func NewWindowsHelloAuthenticator(windowHandle uintptr, runHelloPrompt func(ctx context.Context, reason string, windowHandle uintptr) error) Authenticator {
	return &windowsHelloAuthenticator{windowHandle: windowHandle, authenticate: runHelloPrompt}
}

func (a *windowsHelloAuthenticator) Authenticate(ctx context.Context, reason string) error {
	if a.authenticate == nil {
		return fmt.Errorf("biometric: no Windows Hello prompt backend configured")
	}

	stop := a.startFocusHelper()
	defer stop()

	return a.authenticate(ctx, reason, a.windowHandle)
}

// Available reports whether a Windows Hello prompt backend was wired up
// at construction time.
func (a *windowsHelloAuthenticator) Available(ctx context.Context) bool {
	return a.authenticate != nil
}

// startFocusHelper repeatedly re-asserts foreground focus on the target
// window at a ~500ms cadence until the returned func is called,
// compensating for Windows's foreground-lock-timeout behavior that can
// otherwise leave the Hello prompt behind other windows.
func (a *windowsHelloAuthenticator) startFocusHelper() func() {
	if a.windowHandle == 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(focusPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				procSetForegroundWin.Call(a.windowHandle)
			}
		}
	}()
	return func() { close(done) }
}
