package sshagent

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"sync"

	cryptossh "golang.org/x/crypto/ssh"
)

// KnownHostsReader parses an OpenSSH known_hosts-format file on demand,
// used to recognize a destination host's key when deciding whether a
// signing request looks like ordinary SSH traffic. A missing file is not
// an error: it simply yields no entries.
type KnownHostsReader struct {
	path string

	mu      sync.Mutex
	loaded  bool
	entries map[string][]cryptossh.PublicKey // hostname -> keys
	byKey   map[string]string                // marshaled key blob -> first matching hostname
}

// NewKnownHostsReader returns a reader for the known_hosts file at path.
// Nothing is read until the first Lookup or Reload call.
func NewKnownHostsReader(path string) *KnownHostsReader {
	return &KnownHostsReader{path: path, entries: make(map[string][]cryptossh.PublicKey)}
}

// Lookup returns the known host keys registered for host, loading the
// file on first use. Subsequent calls reuse the cached parse; call
// Reload to pick up file changes.
func (r *KnownHostsReader) Lookup(host string) ([]cryptossh.PublicKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded {
		if err := r.reloadLocked(); err != nil {
			return nil, err
		}
	}
	return r.entries[host], nil
}

// FindHost returns the known_hosts host name registered for pub, loading
// the file on first use. If pub appears under more than one host name,
// the first one encountered while parsing the file is returned. Ok is
// false if pub does not appear in known_hosts at all.
func (r *KnownHostsReader) FindHost(pub cryptossh.PublicKey) (host string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded {
		if err := r.reloadLocked(); err != nil {
			return "", false
		}
	}
	host, ok = r.byKey[string(pub.Marshal())]
	return host, ok
}

// Reload forces a re-read of the known_hosts file.
func (r *KnownHostsReader) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reloadLocked()
}

func (r *KnownHostsReader) reloadLocked() error {
	entries := make(map[string][]cryptossh.PublicKey)
	byKey := make(map[string]string)

	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.entries = entries
			r.byKey = byKey
			r.loaded = true
			return nil
		}
		return fmt.Errorf("sshagent: opening known_hosts: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		hostsField, _, blobField := fields[0], fields[1], fields[2]

		blob, err := base64.StdEncoding.DecodeString(blobField)
		if err != nil {
			continue
		}
		pub, err := cryptossh.ParsePublicKey(blob)
		if err != nil {
			continue
		}

		blobKey := string(blob)
		for _, host := range strings.Split(hostsField, ",") {
			entries[host] = append(entries[host], pub)
			if _, exists := byKey[blobKey]; !exists {
				byKey[blobKey] = host
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("sshagent: reading known_hosts: %w", err)
	}

	r.entries = entries
	r.byKey = byKey
	r.loaded = true
	return nil
}
