package fs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/panyam/portalauth/client"
)

func newStore(t *testing.T, path, serverURL string, opts ...Option) *FSCredentialStore {
	t.Helper()
	store, err := NewFSCredentialStore(path, "", serverURL, opts...)
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}
	return store
}

func TestFSCredentialStore_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store := newStore(t, path, "http://localhost:8080")

	// Initially empty
	creds, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !creds.IsZero() {
		t.Errorf("expected empty credentials, got %+v", creds)
	}

	if err := store.Save("access-1", client.Refresh("refresh-1")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	creds, err = store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if creds.AccessToken != "access-1" {
		t.Errorf("AccessToken = %v, want access-1", creds.AccessToken)
	}
	if creds.RefreshToken != "refresh-1" {
		t.Errorf("RefreshToken = %v, want refresh-1", creds.RefreshToken)
	}
}

func TestFSCredentialStore_RefreshSemantics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store := newStore(t, path, "http://localhost:8080")

	store.Save("access-1", client.Refresh("refresh-1"))

	// nil keeps the refresh token
	store.Save("access-2", nil)
	creds, _ := store.Load()
	if creds.AccessToken != "access-2" || creds.RefreshToken != "refresh-1" {
		t.Errorf("after Save(nil) got %+v", creds)
	}

	// empty removes it
	store.Save("access-3", client.Refresh(""))
	creds, _ = store.Load()
	if creds.AccessToken != "access-3" || creds.RefreshToken != "" {
		t.Errorf("after Save(\"\") got %+v", creds)
	}
}

func TestFSCredentialStore_URLNormalization(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")

	// Save with full URL
	store1 := newStore(t, path, "http://LocalHost:8080/api/v1")
	store1.Save("token", nil)

	// Should find with a different path on the same origin
	store2 := newStore(t, path, "http://localhost:8080/different/path")
	creds, _ := store2.Load()
	if creds.AccessToken != "token" {
		t.Error("expected to find credential with normalized URL")
	}

	if store2.ServerKey() != "http://localhost:8080" {
		t.Errorf("ServerKey() = %s", store2.ServerKey())
	}
}

func TestFSCredentialStore_ClearKeepsOtherServers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	a := newStore(t, path, "http://localhost:8080")
	b := newStore(t, path, "http://localhost:9090")

	a.Save("token-a", client.Refresh("refresh-a"))
	b.Save("token-b", nil)

	if err := a.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if err := a.Clear(); err != nil {
		t.Fatalf("second Clear() error = %v", err)
	}

	creds, _ := a.Load()
	if !creds.IsZero() {
		t.Error("credential should be removed")
	}
	creds, _ = b.Load()
	if creds.AccessToken != "token-b" {
		t.Error("other credential should still exist")
	}

	servers, err := b.ListServers()
	if err != nil {
		t.Fatalf("ListServers() error = %v", err)
	}
	if len(servers) != 1 || servers[0] != "http://localhost:9090" {
		t.Errorf("ListServers() = %v", servers)
	}
}

func TestFSCredentialStore_FilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")
	store := newStore(t, path, "http://localhost:8080")
	store.Save("token", nil)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		t.Errorf("file permissions = %o, want 0600", mode)
	}

	dirInfo, err := os.Stat(filepath.Dir(path))
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if mode := dirInfo.Mode().Perm(); mode != 0700 {
		t.Errorf("dir permissions = %o, want 0700", mode)
	}
}

func TestFSCredentialStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	os.WriteFile(path, []byte("{not json"), 0600)

	if _, err := NewFSCredentialStore(path, "", "http://localhost:8080"); err == nil {
		t.Fatal("expected error for corrupt file")
	}
}

func TestFSCredentialStore_DefaultPath(t *testing.T) {
	store, err := NewFSCredentialStore("", "testapp", "http://localhost:8080")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}

	path := store.Path()
	if filepath.Base(path) != "credentials.json" {
		t.Errorf("path = %s", path)
	}
	if filepath.Base(filepath.Dir(path)) != "testapp" {
		t.Errorf("path = %s, want testapp directory", path)
	}
}

func TestFSCredentialStore_Sealed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store := newStore(t, path, "http://localhost:8080", WithPassphrase("correct horse"))

	if err := store.Save("secret-access", client.Refresh("secret-refresh")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	raw, _ := os.ReadFile(path)
	if strings.Contains(string(raw), "secret-access") || strings.Contains(string(raw), "secret-refresh") {
		t.Fatal("sealed file contains plaintext tokens")
	}

	// Same passphrase reads it back
	reopened := newStore(t, path, "http://localhost:8080", WithPassphrase("correct horse"))
	creds, err := reopened.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if creds.AccessToken != "secret-access" || creds.RefreshToken != "secret-refresh" {
		t.Errorf("Load() = %+v", creds)
	}

	// Wrong passphrase fails
	_, err = NewFSCredentialStore(path, "", "http://localhost:8080", WithPassphrase("battery staple"))
	if !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("expected ErrWrongPassphrase, got %v", err)
	}
}

func TestFSCredentialStore_SealedRejectsPlainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	newStore(t, path, "http://localhost:8080").Save("token", nil)

	_, err := NewFSCredentialStore(path, "", "http://localhost:8080", WithPassphrase("pw"))
	if !errors.Is(err, ErrNotSealed) {
		t.Errorf("expected ErrNotSealed, got %v", err)
	}
}

var _ client.CredentialStore = (*FSCredentialStore)(nil)
