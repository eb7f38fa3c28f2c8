package sshagent

import (
	"fmt"
	"os"
	"path/filepath"

	cryptossh "golang.org/x/crypto/ssh"
)

// LoadFromDirectory parses every regular file in dir as an OpenSSH
// private key and returns the identities it found, using the file name
// as the display comment. Unparseable files are skipped rather than
// failing the whole load, since a directory of vault-exported key
// material may contain files this agent doesn't recognize.
//
// This is a minimal, file-based stand-in for the vault-provided key
// source described by the wider system: the agent core itself is
// agnostic to where unlocked key material comes from, as long as it
// arrives as a slice of UnlockedSshItem. A real vault assigns CipherID;
// here the file path stands in for it, since it is unique within dir.
func LoadFromDirectory(dir string) ([]UnlockedSshItem, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("sshagent: reading key directory: %w", err)
	}

	var items []UnlockedSshItem
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		signer, err := cryptossh.ParsePrivateKey(data)
		if err != nil {
			continue
		}
		items = append(items, UnlockedSshItem{Name: entry.Name(), CipherID: path, Signer: signer})
	}
	return items, nil
}
