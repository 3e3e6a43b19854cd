// Package tokenauth provides HTTP bindings for token-based authentication.
//
// The package exposes a REST surface for creating, retrieving, verifying and
// deleting authentication tokens of three kinds: short-lived nonces delivered
// out of band, salted password hashes, and TOTP secrets for authenticator
// apps. On top of the token primitives it layers session-accumulated
// multifactor authentication and cookie-based client registration.
//
// # Architecture
//
// Account: A unique account identified by id, with an email address and an
// optional list of required authentication methods.
//
// Token: A credential of a given type (nonce, password, totp) bound to an
// account. Tokens may name the authentication method they satisfy and may
// themselves require other methods to have been completed first.
//
// Client registration: A browser or device identified by a random client id
// stored in a cookie. Registration is a first-class authentication method,
// letting accounts require a known client before other factors count.
//
// # Basic Usage
//
// Set up a store and mount the handler:
//
//	import (
//	    "github.com/keramos/tokenauth"
//	    "github.com/keramos/tokenauth/stores"
//	)
//
//	store := stores.NewMemStore(stores.MemStoreConfig{Issuer: "myapp"})
//	auth := tokenauth.New("myapp")
//	auth.Tokens = store
//	auth.Clients = store
//	auth.Accounts = store
//	auth.EnsureDefaults()
//
//	http.ListenAndServe(":8080", auth.Handler())
//
// The handler registers routes under /authn/token by default. Route paths,
// cookie names and session behavior are all configurable on the TokenAuth
// struct before EnsureDefaults is called.
//
// # Store Implementations
//
// The stores package provides an in-memory implementation suitable for
// development and testing. The stores/gorm package persists accounts, tokens
// and client registrations to any database GORM supports.
//
// # Security
//
// Password hashes are compared through salted SHA-256 digests so the server
// never stores the bcrypt hash directly. Lookups for unknown accounts return
// deterministic fake salts and optionally add response jitter, keeping
// account enumeration attacks from distinguishing real accounts. Nonces are
// single use and expire automatically.
//
// # Testing
//
// Handlers can be tested against httptest.NewServer with a cookie jar to
// carry the session and client id cookies across requests.
package tokenauth
