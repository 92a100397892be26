//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	"github.com/panyam/portalauth/client"
)

// CredentialModel is the GORM model for a portal's credential pair
type CredentialModel struct {
	ServerURL    string    `gorm:"primaryKey;size:255"`
	AccessToken  string    `gorm:"type:text"`
	RefreshToken string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (CredentialModel) TableName() string {
	return "portal_credentials"
}

func (m *CredentialModel) ToCredentials() client.Credentials {
	return client.Credentials{
		AccessToken:  m.AccessToken,
		RefreshToken: m.RefreshToken,
	}
}
