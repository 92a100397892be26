//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore client.CredentialStore.
// It suits agents running on Google Cloud Platform that should survive
// instance restarts without a local disk.
//
// # Datastore Kinds
//
//   - PortalCredential: one entity per portal, keyed by normalized server URL
//
// # Namespacing
//
// Pass a namespace to isolate the credentials of different agents or tenants:
//
//	store, _ := gae.NewCredentialStore(dsClient, "agent-7", "https://portal.example.com")
package gae
