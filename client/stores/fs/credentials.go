// Package fs provides a file system-based credential store for the portal session client.
package fs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/mitchellh/go-homedir"
	"github.com/panyam/portalauth/client"
)

// DefaultAppName names the config directory when none is given
const DefaultAppName = "portalauth"

// FSCredentialStore stores credentials as a JSON file on the filesystem.
// One file holds the pairs of several portals, keyed by normalized server URL;
// a store instance reads and writes only the entry for its own server.
//
// The file is re-read on every Load so separate processes sharing it see each
// other's refreshes.
type FSCredentialStore struct {
	mu        sync.Mutex
	path      string
	serverKey string
	sealer    *sealer
}

// credentialFile is the JSON structure stored on disk
type credentialFile struct {
	Servers map[string]client.Credentials `json:"servers"`
}

// Option configures an FSCredentialStore
type Option func(*FSCredentialStore)

// WithPassphrase seals the file at rest. The same passphrase is needed to read it back.
func WithPassphrase(passphrase string) Option {
	return func(s *FSCredentialStore) {
		if passphrase != "" {
			s.sealer = newSealer(passphrase)
		}
	}
}

// NewFSCredentialStore creates a store for serverURL.
// If path is empty, defaults to ~/.config/<appName>/credentials.json. A leading ~ is expanded.
func NewFSCredentialStore(path, appName, serverURL string, opts ...Option) (*FSCredentialStore, error) {
	key, err := client.NormalizeServerURL(serverURL)
	if err != nil {
		return nil, err
	}

	if path == "" {
		path, err = DefaultPath(appName)
		if err != nil {
			return nil, err
		}
	} else if path, err = homedir.Expand(path); err != nil {
		return nil, fmt.Errorf("could not expand path: %w", err)
	}

	s := &FSCredentialStore{
		path:      path,
		serverKey: key,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Fail early on an unreadable file rather than on first use
	if _, err := s.read(); err != nil {
		return nil, err
	}
	return s, nil
}

// DefaultPath returns ~/.config/<appName>/credentials.json, or the platform's
// user config directory when it is known.
func DefaultPath(appName string) (string, error) {
	if appName == "" {
		appName = DefaultAppName
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		home, err := homedir.Dir()
		if err != nil {
			return "", fmt.Errorf("could not determine config directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, appName, "credentials.json"), nil
}

// read loads the whole file. A missing file is an empty one.
func (s *FSCredentialStore) read() (*credentialFile, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &credentialFile{Servers: map[string]client.Credentials{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	if s.sealer != nil {
		if data, err = s.sealer.open(data); err != nil {
			return nil, err
		}
	}

	var file credentialFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if file.Servers == nil {
		file.Servers = map[string]client.Credentials{}
	}
	return &file, nil
}

func (s *FSCredentialStore) write(file *credentialFile) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}
	if s.sealer != nil {
		if data, err = s.sealer.seal(data); err != nil {
			return err
		}
	}
	return writeAtomicFile(s.path, data, 0600)
}

// Load implements client.CredentialStore
func (s *FSCredentialStore) Load() (client.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.read()
	if err != nil {
		return client.Credentials{}, err
	}
	return file.Servers[s.serverKey], nil
}

// Save implements client.CredentialStore
func (s *FSCredentialStore) Save(access string, refresh *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.read()
	if err != nil {
		return err
	}
	file.Servers[s.serverKey] = client.ApplySave(file.Servers[s.serverKey], access, refresh)
	return s.write(file)
}

// Clear implements client.CredentialStore. Other servers' entries are kept.
func (s *FSCredentialStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := file.Servers[s.serverKey]; !ok {
		return nil
	}
	delete(file.Servers, s.serverKey)
	return s.write(file)
}

// ListServers returns all server URLs with stored credentials
func (s *FSCredentialStore) ListServers() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.read()
	if err != nil {
		return nil, err
	}
	servers := make([]string, 0, len(file.Servers))
	for k := range file.Servers {
		servers = append(servers, k)
	}
	sort.Strings(servers)
	return servers, nil
}

// Path returns the path to the credentials file
func (s *FSCredentialStore) Path() string {
	return s.path
}

// ServerKey returns the normalized server URL this store reads and writes
func (s *FSCredentialStore) ServerKey() string {
	return s.serverKey
}
