//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	"github.com/panyam/portalauth/client"
)

// CredentialStore implements client.CredentialStore using Google Cloud Datastore
type CredentialStore struct {
	client    *datastore.Client
	namespace string
	serverURL string
	ctx       context.Context
}

// NewCredentialStore creates a Datastore-backed store for the portal at serverURL
func NewCredentialStore(dsClient *datastore.Client, namespace, serverURL string) (*CredentialStore, error) {
	key, err := client.NormalizeServerURL(serverURL)
	if err != nil {
		return nil, err
	}
	return &CredentialStore{
		client:    dsClient,
		namespace: namespace,
		serverURL: key,
		ctx:       context.Background(),
	}, nil
}

// WithContext returns a copy of the store with the given context
func (s *CredentialStore) WithContext(ctx context.Context) *CredentialStore {
	out := *s
	out.ctx = ctx
	return &out
}

func (s *CredentialStore) key() *datastore.Key {
	key := datastore.NameKey(KindPortalCredential, s.serverURL, nil)
	key.Namespace = s.namespace
	return key
}

func (s *CredentialStore) Load() (client.Credentials, error) {
	var entity CredentialEntity
	if err := s.client.Get(s.ctx, s.key(), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return client.Credentials{}, nil
		}
		return client.Credentials{}, err
	}
	return client.Credentials{
		AccessToken:  entity.AccessToken,
		RefreshToken: entity.RefreshToken,
	}, nil
}

// Save reads and writes the entity in one transaction so a nil refresh keeps
// the stored one even with concurrent writers.
func (s *CredentialStore) Save(access string, refresh *string) error {
	key := s.key()
	_, err := s.client.RunInTransaction(s.ctx, func(tx *datastore.Transaction) error {
		var entity CredentialEntity
		if err := tx.Get(key, &entity); err != nil && !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}

		merged := client.ApplySave(client.Credentials{
			AccessToken:  entity.AccessToken,
			RefreshToken: entity.RefreshToken,
		}, access, refresh)

		now := time.Now()
		if entity.CreatedAt.IsZero() {
			entity.CreatedAt = now
		}
		entity.Key = key
		entity.AccessToken = merged.AccessToken
		entity.RefreshToken = merged.RefreshToken
		entity.UpdatedAt = now

		_, err := tx.Put(key, &entity)
		return err
	})
	return err
}

func (s *CredentialStore) Clear() error {
	return s.client.Delete(s.ctx, s.key())
}

// ListServers returns the server URLs with stored credentials in this namespace
func (s *CredentialStore) ListServers() ([]string, error) {
	query := datastore.NewQuery(KindPortalCredential).Namespace(s.namespace).KeysOnly()
	it := s.client.Run(s.ctx, query)

	var servers []string
	for {
		key, err := it.Next(nil)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		servers = append(servers, key.Name)
	}
	return servers, nil
}
