//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-based implementation of the tokenauth store
// interfaces. It supports any database that GORM supports (PostgreSQL, MySQL,
// SQLite, etc.) and is suitable for deployments requiring relational storage.
//
// # Database Schema
//
// The package auto-migrates the following tables:
//   - authn_accounts: Accounts with authentication requirements and recovery email
//   - authn_tokens: Authentication tokens (nonce, password, totp)
//   - authn_clients: Client registrations keyed by client id
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	gormstore.AutoMigrate(db)
//	store := gormstore.New(db, gormstore.Config{Issuer: "myapp"})
package gorm
