// Package client provides the client-side session manager for the video portal.
// It includes credential storage, token inspection, proactive refresh, profile
// loading and an HTTP transport that authenticates every API call.
package client

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Credentials holds the access/refresh pair for a single portal.
// An empty string means the token is absent.
type Credentials struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// HasAccessToken returns true if an access token is held
func (c Credentials) HasAccessToken() bool {
	return c.AccessToken != ""
}

// HasRefreshToken returns true if a refresh token is available
func (c Credentials) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

// IsZero returns true if neither token is held
func (c Credentials) IsZero() bool {
	return c.AccessToken == "" && c.RefreshToken == ""
}

// Refresh returns a pointer suitable for CredentialStore.Save.
// Refresh("") explicitly removes the persisted refresh token.
func Refresh(token string) *string {
	return &token
}

// CredentialStore persists the credential pair across process restarts.
type CredentialStore interface {
	// Load returns the persisted pair.
	// A store with nothing persisted returns the zero Credentials and a nil error.
	Load() (Credentials, error)

	// Save persists the access token. A nil refresh leaves the persisted refresh
	// token untouched; a pointer to "" removes it.
	Save(access string, refresh *string) error

	// Clear removes both tokens.
	Clear() error
}

// ApplySave merges a Save call into an existing pair.
// Store implementations use it so the nil/empty refresh semantics live in one place.
func ApplySave(existing Credentials, access string, refresh *string) Credentials {
	existing.AccessToken = access
	if refresh != nil {
		existing.RefreshToken = *refresh
	}
	return existing
}

// MemoryCredentialStore keeps credentials in process memory only.
// It is the degenerate store: nothing survives a restart.
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	creds Credentials
}

// NewMemoryCredentialStore creates an empty in-memory store
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{}
}

// Load returns the current pair
func (m *MemoryCredentialStore) Load() (Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds, nil
}

// Save stores the access token and optionally the refresh token
func (m *MemoryCredentialStore) Save(access string, refresh *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = ApplySave(m.creds, access, refresh)
	return nil
}

// Clear forgets both tokens
func (m *MemoryCredentialStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = Credentials{}
	return nil
}

// NormalizeServerURL reduces a server URL to scheme://host. Stores that hold
// credentials for several portals use it as the key.
func NormalizeServerURL(serverURL string) (string, error) {
	if !strings.Contains(serverURL, "://") {
		serverURL = "https://" + serverURL
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q: missing host", serverURL)
	}
	return fmt.Sprintf("%s://%s", strings.ToLower(u.Scheme), strings.ToLower(u.Host)), nil
}
