// Package redis provides a Redis-backed client.CredentialStore.
// Each portal's pair lives in one hash so several agents can share a session.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/panyam/portalauth/client"
)

// DefaultKeyPrefix is prepended to the normalized server URL
const DefaultKeyPrefix = "portalauth:credentials:"

const (
	fieldAccess  = "access_token"
	fieldRefresh = "refresh_token"
)

// CredentialStore implements client.CredentialStore on a Redis hash
type CredentialStore struct {
	rdb    redis.UniversalClient
	prefix string
	server string
	key    string
	ctx    context.Context
}

// Option configures a CredentialStore
type Option func(*CredentialStore)

// WithKeyPrefix overrides DefaultKeyPrefix
func WithKeyPrefix(prefix string) Option {
	return func(s *CredentialStore) {
		s.prefix = prefix
	}
}

// NewCredentialStore creates a store for the portal at serverURL
func NewCredentialStore(rdb redis.UniversalClient, serverURL string, opts ...Option) (*CredentialStore, error) {
	server, err := client.NormalizeServerURL(serverURL)
	if err != nil {
		return nil, err
	}
	s := &CredentialStore{
		rdb:    rdb,
		prefix: DefaultKeyPrefix,
		server: server,
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.key = s.prefix + s.server
	return s, nil
}

// WithContext returns a copy of the store with the given context
func (s *CredentialStore) WithContext(ctx context.Context) *CredentialStore {
	out := *s
	out.ctx = ctx
	return &out
}

// Key returns the Redis key of the hash
func (s *CredentialStore) Key() string {
	return s.key
}

func (s *CredentialStore) Load() (client.Credentials, error) {
	fields, err := s.rdb.HGetAll(s.ctx, s.key).Result()
	if err != nil {
		return client.Credentials{}, fmt.Errorf("failed to load credentials: %w", err)
	}
	return client.Credentials{
		AccessToken:  fields[fieldAccess],
		RefreshToken: fields[fieldRefresh],
	}, nil
}

// Save writes the fields in one MULTI/EXEC. A nil refresh leaves the refresh
// field untouched; an empty one deletes it.
func (s *CredentialStore) Save(access string, refresh *string) error {
	_, err := s.rdb.TxPipelined(s.ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(s.ctx, s.key, fieldAccess, access)
		if refresh != nil {
			if *refresh == "" {
				pipe.HDel(s.ctx, s.key, fieldRefresh)
			} else {
				pipe.HSet(s.ctx, s.key, fieldRefresh, *refresh)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

func (s *CredentialStore) Clear() error {
	if err := s.rdb.Del(s.ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}
