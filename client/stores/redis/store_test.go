package redis

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCredentialStore_Key(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer rdb.Close()

	store, err := NewCredentialStore(rdb, "https://Portal.Example.com/watch/42")
	require.NoError(t, err)
	assert.Equal(t, "portalauth:credentials:https://portal.example.com", store.Key())

	store, err = NewCredentialStore(rdb, "http://localhost:8080", WithKeyPrefix("agent-7:"))
	require.NoError(t, err)
	assert.Equal(t, "agent-7:http://localhost:8080", store.Key())

	_, err = NewCredentialStore(rdb, "http://")
	assert.Error(t, err)
}

func TestCredentialStore_LoadFailsWithoutServer(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer rdb.Close()

	store, err := NewCredentialStore(rdb, "http://localhost:8080")
	require.NoError(t, err)

	_, err = store.Load()
	assert.Error(t, err)
}
