//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/panyam/portalauth/client"
)

// AutoMigrate runs database migrations for the credential table
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&CredentialModel{})
}

// CredentialStore implements client.CredentialStore using GORM
type CredentialStore struct {
	db        *gorm.DB
	serverURL string
	ctx       context.Context
}

// NewCredentialStore creates a store for the portal at serverURL
func NewCredentialStore(db *gorm.DB, serverURL string) (*CredentialStore, error) {
	key, err := client.NormalizeServerURL(serverURL)
	if err != nil {
		return nil, err
	}
	return &CredentialStore{db: db, serverURL: key, ctx: context.Background()}, nil
}

// WithContext returns a copy of the store with the given context
func (s *CredentialStore) WithContext(ctx context.Context) *CredentialStore {
	return &CredentialStore{db: s.db, serverURL: s.serverURL, ctx: ctx}
}

func (s *CredentialStore) Load() (client.Credentials, error) {
	var model CredentialModel
	err := s.db.WithContext(s.ctx).First(&model, "server_url = ?", s.serverURL).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return client.Credentials{}, nil
	}
	if err != nil {
		return client.Credentials{}, err
	}
	return model.ToCredentials(), nil
}

// Save upserts the row. A nil refresh leaves the stored refresh token as is.
func (s *CredentialStore) Save(access string, refresh *string) error {
	model := &CredentialModel{
		ServerURL:   s.serverURL,
		AccessToken: access,
	}
	columns := []string{"access_token", "updated_at"}
	if refresh != nil {
		model.RefreshToken = *refresh
		columns = append(columns, "refresh_token")
	}

	return s.db.WithContext(s.ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "server_url"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(model).Error
}

func (s *CredentialStore) Clear() error {
	return s.db.WithContext(s.ctx).Delete(&CredentialModel{}, "server_url = ?", s.serverURL).Error
}

// ListServers returns all server URLs with a stored row
func (s *CredentialStore) ListServers() ([]string, error) {
	var servers []string
	err := s.db.WithContext(s.ctx).Model(&CredentialModel{}).Order("server_url").Pluck("server_url", &servers).Error
	return servers, err
}
