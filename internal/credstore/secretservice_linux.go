//go:build linux

package credstore

import (
	"fmt"

	"github.com/godbus/dbus/v5"

	vaultcrypto "github.com/joe/vaultagent/internal/crypto"
)

const (
	secretServiceBusName  = "org.freedesktop.secrets"
	secretServicePath     = "/org/freedesktop/secrets"
	serviceInterface      = "org.freedesktop.Secret.Service"
	collectionInterface   = "org.freedesktop.Secret.Collection"
	itemInterface         = "org.freedesktop.Secret.Item"
	defaultCollectionPath = "/org/freedesktop/secrets/aliases/default"
)

// secretServiceStore is a client of the freedesktop Secret Service,
// opening an encrypted session with the dh-ietf1024-sha256-aes128-cbc-pkcs7
// algorithm the way a real Secret Service consumer (gnome-keyring, kwallet
// clients) negotiates it. Entries are addressed by a pair of D-Bus
// lookup attributes, "service" and "account", matching the shape callers
// of this package use everywhere else.
type secretServiceStore struct {
	conn      *dbus.Conn
	sessionP  dbus.ObjectPath
	aesKey    []byte
}

// NewStore opens a session-bus connection to the Secret Service and
// negotiates an encrypted session. Callers should treat the returned
// Store as tied to the process's session bus connection.
func NewStore() (Store, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("credstore: connecting to session bus: %w", err)
	}

	s := &secretServiceStore{conn: conn}
	if err := s.openSession(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *secretServiceStore) openSession() error {
	kp, err := vaultcrypto.GenerateKeyPairInitiator()
	if err != nil {
		return fmt.Errorf("credstore: generating DH keypair: %w", err)
	}

	var output dbus.Variant
	var sessionPath dbus.ObjectPath
	obj := s.conn.Object(secretServiceBusName, secretServicePath)
	call := obj.Call(serviceInterface+".OpenSession", 0,
		"dh-ietf1024-sha256-aes128-cbc-pkcs7", dbus.MakeVariant(kp.PublicKey))
	if call.Err != nil {
		return fmt.Errorf("credstore: OpenSession: %w", call.Err)
	}
	if err := call.Store(&output, &sessionPath); err != nil {
		return fmt.Errorf("credstore: decoding OpenSession reply: %w", err)
	}

	serverPublic, ok := output.Value().([]byte)
	if !ok {
		return fmt.Errorf("credstore: unexpected OpenSession output type")
	}

	shared, err := kp.ComputeSharedSecret(serverPublic)
	if err != nil {
		return fmt.Errorf("credstore: computing shared secret: %w", err)
	}
	aesKey, err := vaultcrypto.DeriveAESKey(shared)
	if err != nil {
		return fmt.Errorf("credstore: deriving session key: %w", err)
	}

	s.sessionP = sessionPath
	s.aesKey = aesKey
	return nil
}

type ssSecret struct {
	Session     dbus.ObjectPath
	Parameters  []byte
	Value       []byte
	ContentType string
}

func (s *secretServiceStore) Set(service, account string, blob []byte) error {
	ciphertext, iv, err := vaultcrypto.Encrypt(blob, s.aesKey)
	if err != nil {
		return fmt.Errorf("credstore: encrypting secret: %w", err)
	}

	secret := ssSecret{
		Session:     s.sessionP,
		Parameters:  iv,
		Value:       ciphertext,
		ContentType: "application/octet-stream",
	}
	props := map[string]dbus.Variant{
		"org.freedesktop.Secret.Item.Label": dbus.MakeVariant(service + "/" + account),
		"org.freedesktop.Secret.Item.Attributes": dbus.MakeVariant(map[string]string{
			"service": service,
			"account": account,
		}),
	}

	collection := s.conn.Object(secretServiceBusName, dbus.ObjectPath(defaultCollectionPath))
	var itemPath, promptPath dbus.ObjectPath
	call := collection.Call(collectionInterface+".CreateItem", 0, props, secret, true)
	if call.Err != nil {
		return fmt.Errorf("credstore: CreateItem: %w", call.Err)
	}
	if err := call.Store(&itemPath, &promptPath); err != nil {
		return fmt.Errorf("credstore: decoding CreateItem reply: %w", err)
	}
	return nil
}

func (s *secretServiceStore) Get(service, account string) ([]byte, error) {
	attrs := map[string]string{"service": service, "account": account}

	collection := s.conn.Object(secretServiceBusName, dbus.ObjectPath(defaultCollectionPath))
	var paths []dbus.ObjectPath
	if err := collection.Call(collectionInterface+".SearchItems", 0, attrs).Store(&paths); err != nil {
		return nil, fmt.Errorf("credstore: SearchItems: %w", err)
	}
	if len(paths) == 0 {
		return nil, ErrNotFound
	}

	item := s.conn.Object(secretServiceBusName, paths[0])
	var secret ssSecret
	if err := item.Call(itemInterface+".GetSecret", 0, s.sessionP).Store(&secret); err != nil {
		return nil, fmt.Errorf("credstore: GetSecret: %w", err)
	}

	plaintext, err := vaultcrypto.Decrypt(secret.Value, s.aesKey, secret.Parameters)
	if err != nil {
		return nil, fmt.Errorf("credstore: decrypting secret: %w", err)
	}
	return plaintext, nil
}

func (s *secretServiceStore) Delete(service, account string) error {
	attrs := map[string]string{"service": service, "account": account}

	collection := s.conn.Object(secretServiceBusName, dbus.ObjectPath(defaultCollectionPath))
	var paths []dbus.ObjectPath
	if err := collection.Call(collectionInterface+".SearchItems", 0, attrs).Store(&paths); err != nil {
		return fmt.Errorf("credstore: SearchItems: %w", err)
	}
	for _, p := range paths {
		item := s.conn.Object(secretServiceBusName, p)
		var promptPath dbus.ObjectPath
		if err := item.Call(itemInterface+".Delete", 0).Store(&promptPath); err != nil {
			return fmt.Errorf("credstore: Delete: %w", err)
		}
	}
	return nil
}
