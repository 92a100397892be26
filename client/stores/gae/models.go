//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"
)

// KindPortalCredential is the Datastore kind for credential entities
const KindPortalCredential = "PortalCredential"

// CredentialEntity is the Datastore entity for a portal's credential pair.
// Tokens are not indexed.
type CredentialEntity struct {
	Key          *datastore.Key `datastore:"__key__"`
	AccessToken  string         `datastore:"access_token,noindex"`
	RefreshToken string         `datastore:"refresh_token,noindex"`
	CreatedAt    time.Time      `datastore:"created_at"`
	UpdatedAt    time.Time      `datastore:"updated_at"`
}
