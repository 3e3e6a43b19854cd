package tokenauth

import (
	"context"
	"net/http"
	"strings"

	"log/slog"
)

type accountParamNameKey string

// Middleware resolves the authenticated principal for a request: first from
// the request context, then the server-side session, then a bearer/cookie
// auth token.
type Middleware struct {
	AuthTokenHeaderName string
	AuthTokenCookieName string
	AccountParamName    string
	SessionGetter       func(r *http.Request, param string) any
	VerifyToken         func(tokenString string) (loggedInAccountID string, token any, err error)
}

func (m *Middleware) EnsureReasonableDefaults() {
	if m.AccountParamName == "" {
		m.AccountParamName = "loggedInAccountId"
	}
	if m.AuthTokenHeaderName == "" {
		m.AuthTokenHeaderName = "Authorization"
	}
}

func (m *Middleware) accountParamName() string {
	m.EnsureReasonableDefaults()
	return m.AccountParamName
}

// LoggedInAccountID returns the ID of the authenticated account for the
// current request, or "" when the request is unauthenticated.
func (m *Middleware) LoggedInAccountID(r *http.Request) string {
	m.EnsureReasonableDefaults()
	v := r.Context().Value(accountParamNameKey(m.AccountParamName))
	if v != nil {
		if accountID, ok := v.(string); ok && accountID != "" {
			return accountID
		}
	}
	return m.resolveAccountID(r)
}

func (m *Middleware) resolveAccountID(r *http.Request) string {
	if m.SessionGetter != nil {
		sessionParam := m.SessionGetter(r, m.AccountParamName)
		if accountID, ok := sessionParam.(string); ok && accountID != "" {
			return accountID
		}
	}

	if m.VerifyToken == nil {
		slog.Warn("No auth token verifier found.  Please set one")
		return ""
	}

	// Otherwise check the Auth header and the auth token cookie
	var authTokens []string
	for _, header := range r.Header.Values(m.AuthTokenHeaderName) {
		authTokens = append(authTokens, strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
	}
	for _, cookie := range r.CookiesNamed(m.AuthTokenCookieName) {
		if len(cookie.Value) > 0 {
			// a cookie may be sent instead when serving non-api calls
			authTokens = append(authTokens, cookie.Value)
		}
	}

	for _, authToken := range authTokens {
		loggedInAccountID, _, err := m.VerifyToken(authToken)
		if err == nil && loggedInAccountID != "" {
			return loggedInAccountID
		} else if err != nil {
			slog.Warn("error verifying token", "error", err)
		}
	}
	return ""
}

// OptionallyAuthenticated loads the authenticated account (if any) into the
// request context and always continues to the next handler.
func (m *Middleware) OptionallyAuthenticated(next http.Handler) http.Handler {
	m.EnsureReasonableDefaults()
	return http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			accountID := m.resolveAccountID(r)
			next.ServeHTTP(w, m.setLoggedInAccountID(accountID, r))
		},
	)
}

// EnsureAuthenticated rejects unauthenticated requests with a public
// NotAllowedError; otherwise loads the account into the request context.
func (m *Middleware) EnsureAuthenticated(next http.Handler) http.Handler {
	m.EnsureReasonableDefaults()
	return http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			accountID := m.resolveAccountID(r)
			if accountID == "" {
				WriteError(w, NewNotAllowedError("Authentication required."))
				return
			}
			next.ServeHTTP(w, m.setLoggedInAccountID(accountID, r))
		},
	)
}

// Set the logged in account id into the request's context so it is
// available to all handlers downstream.
func (m *Middleware) setLoggedInAccountID(accountID string, r *http.Request) *http.Request {
	ctx := context.WithValue(r.Context(), accountParamNameKey(m.AccountParamName), accountID)
	return r.WithContext(ctx)
}
