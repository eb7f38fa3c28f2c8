//go:build linux

package biometric

import (
	"context"
	"fmt"
	"os"

	"github.com/godbus/dbus/v5"
)

const (
	polkitBusName   = "org.freedesktop.PolicyKit1"
	polkitPath      = "/org/freedesktop/PolicyKit1/Authority"
	polkitInterface = "org.freedesktop.PolicyKit1.Authority"
	// polkitActionID is the action this agent requests authorization for.
	// A real packaging of this module would ship a matching
	// .policy file declaring this action id.
	polkitActionID = "com.bitwarden.vaultagent.unlock"
)

type polkitAuthenticator struct {
	conn *dbus.Conn
}

// NewPolkitAuthenticator authenticates through PolicyKit's
// CheckAuthorization call, the same mechanism used by Linux desktop
// session managers to gate privileged actions behind a password or
// fingerprint prompt.
func NewPolkitAuthenticator(conn *dbus.Conn) Authenticator {
	return &polkitAuthenticator{conn: conn}
}

// subjectDetails identifies the calling process to PolicyKit by pid and
// start-time, as the "unix-process" subject kind requires.
type subjectDetails struct {
	Pid       uint32
	StartTime uint64
}

func (a *polkitAuthenticator) Authenticate(ctx context.Context, reason string) error {
	subject := struct {
		Kind    string
		Details map[string]dbus.Variant
	}{
		Kind: "unix-process",
		Details: map[string]dbus.Variant{
			"pid":        dbus.MakeVariant(uint32(os.Getpid())),
			"start-time": dbus.MakeVariant(uint64(0)),
		},
	}
	details := map[string]string{"polkit.message": reason}

	obj := a.conn.Object(polkitBusName, dbus.ObjectPath(polkitPath))
	call := obj.CallWithContext(ctx, polkitInterface+".CheckAuthorization", 0,
		subject, polkitActionID, details, uint32(1) /* AllowUserInteraction */, "")

	var result struct {
		IsAuthorized bool
		IsChallenge  bool
		Details      map[string]string
	}
	if call.Err != nil {
		return fmt.Errorf("biometric: polkit CheckAuthorization: %w", call.Err)
	}
	if err := call.Store(&result.IsAuthorized, &result.IsChallenge, &result.Details); err != nil {
		return fmt.Errorf("biometric: decoding polkit reply: %w", err)
	}
	if !result.IsAuthorized {
		return fmt.Errorf("biometric: not authorized")
	}
	return nil
}

// Available reports whether the session bus connection this
// authenticator was built with is present. Constructing a
// polkitAuthenticator already requires a live connection (see
// NewPolkitAuthenticator's caller), so this is true unless the
// authenticator was built with a nil connection.
func (a *polkitAuthenticator) Available(ctx context.Context) bool {
	return a.conn != nil
}
