//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-backed client.CredentialStore.
// It works with any database GORM supports (PostgreSQL, MySQL, SQLite, etc.)
// and suits long-running agents that already keep a relational database around.
//
// # Database Schema
//
// AutoMigrate creates one table:
//   - portal_credentials: one row per portal, keyed by normalized server URL
//
// # Usage
//
//	db, _ := gorm.Open(sqlite.Open("portal.db"), &gorm.Config{})
//	gormstore.AutoMigrate(db)
//	store, _ := gormstore.NewCredentialStore(db, "https://portal.example.com")
//	session := client.NewManager(store, client.NewAPIClient(apiURL))
package gorm
