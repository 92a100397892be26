//go:build !wasm
// +build !wasm

package gorm

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/panyam/portalauth/client"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "portal.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return db
}

func TestCredentialStore_SaveLoadClear(t *testing.T) {
	db := openTestDB(t)
	store, err := NewCredentialStore(db, "http://localhost:8080/api")
	require.NoError(t, err)

	creds, err := store.Load()
	require.NoError(t, err)
	assert.True(t, creds.IsZero())

	require.NoError(t, store.Save("a1", client.Refresh("r1")))
	creds, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, client.Credentials{AccessToken: "a1", RefreshToken: "r1"}, creds)

	// nil keeps the refresh token
	require.NoError(t, store.Save("a2", nil))
	creds, _ = store.Load()
	assert.Equal(t, client.Credentials{AccessToken: "a2", RefreshToken: "r1"}, creds)

	// empty removes it
	require.NoError(t, store.Save("a3", client.Refresh("")))
	creds, _ = store.Load()
	assert.Equal(t, client.Credentials{AccessToken: "a3"}, creds)

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear())
	creds, _ = store.Load()
	assert.True(t, creds.IsZero())
}

func TestCredentialStore_KeyedByServer(t *testing.T) {
	db := openTestDB(t)
	a, err := NewCredentialStore(db, "http://localhost:8080")
	require.NoError(t, err)
	b, err := NewCredentialStore(db, "http://localhost:9090")
	require.NoError(t, err)

	require.NoError(t, a.Save("token-a", nil))
	require.NoError(t, b.Save("token-b", client.Refresh("refresh-b")))
	require.NoError(t, a.Clear())

	creds, _ := b.Load()
	assert.Equal(t, "token-b", creds.AccessToken)

	servers, err := a.ListServers()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:9090"}, servers)
}

func TestCredentialStore_RejectsBadURL(t *testing.T) {
	_, err := NewCredentialStore(openTestDB(t), "http://")
	assert.Error(t, err)
}

var _ client.CredentialStore = (*CredentialStore)(nil)
