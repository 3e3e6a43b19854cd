package tokenauth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"
)

// clientIDBytes gives a 22-character encoded id
const clientIDBytes = 16

// EnsureClientID returns the existing client id, or generates a fixed-length
// random one when none was supplied. An existing id is never rotated: each
// user on a shared device has to authenticate the client id, but once
// authenticated it is not discarded when another user authenticates.
func EnsureClientID(existing string) (string, error) {
	if existing != "" {
		return existing, nil
	}
	b := make([]byte, clientIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate client id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// clientIDFromRequest reads the client id cookie, returning "" when absent
func (a *TokenAuth) clientIDFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(a.ClientIDCookie.Name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// setClientIDCookie writes the client id cookie with the configured policy
func (a *TokenAuth) setClientIDCookie(w http.ResponseWriter, clientID string) {
	cfg := a.ClientIDCookie
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    clientID,
		Path:     "/",
		MaxAge:   int(cfg.MaxAge / time.Second),
		Expires:  time.Now().Add(cfg.MaxAge),
		HttpOnly: cfg.HTTPOnly,
		Secure:   cfg.Secure,
	})
}

// registerClient records the client id for the account/email via the client
// store. authenticated is false on first registration and true once the
// client completes an authentication challenge.
func (a *TokenAuth) registerClient(r *http.Request, clientID, account, email string, authenticated bool) error {
	return a.Clients.SetClient(r.Context(), &ClientRegistration{
		ClientID:      clientID,
		Account:       account,
		Email:         email,
		Authenticated: authenticated,
	})
}
