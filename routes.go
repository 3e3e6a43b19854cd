package tokenauth

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"slices"

	"github.com/gorilla/mux"
)

type postTokenRequest struct {
	Account                       string         `json:"account"`
	Email                         string         `json:"email"`
	Hash                          string         `json:"hash"`
	ServiceID                     string         `json:"serviceId"`
	AuthenticationMethod          string         `json:"authenticationMethod"`
	RequiredAuthenticationMethods []string       `json:"requiredAuthenticationMethods"`
	TypeOptions                   map[string]any `json:"typeOptions"`
}

type authenticateRequest struct {
	Type      string `json:"type"`
	Account   string `json:"account"`
	Email     string `json:"email"`
	Hash      string `json:"hash"`
	Challenge string `json:"challenge"`
}

type loginRequest struct {
	Type      string `json:"type"`
	Account   string `json:"account"`
	Email     string `json:"email"`
	Hash      string `json:"hash"`
	Challenge string `json:"challenge"`
}

type requirementsRequest struct {
	Account                       string   `json:"account"`
	RequiredAuthenticationMethods []string `json:"requiredAuthenticationMethods"`
}

type recoveryRequest struct {
	Account       string `json:"account"`
	RecoveryEmail string `json:"recoveryEmail"`
}

// handlePostToken creates a token and notifies the user. Nonces may be
// requested without authentication; every other type requires an
// authenticated principal.
func (a *TokenAuth) handlePostToken(w http.ResponseWriter, r *http.Request) {
	tokenType := mux.Vars(r)["type"]
	var body postTokenRequest
	if !decodeBody(w, r, &body) {
		return
	}

	clientID := a.clientIDFromRequest(r)
	if body.AuthenticationMethod == MethodClientRegistration {
		// generate a client ID if one has not been set yet; otherwise reuse
		// the existing one (see EnsureClientID)
		var err error
		clientID, err = EnsureClientID(clientID)
		if err != nil {
			WriteError(w, err)
			return
		}
		if err := a.registerClient(r, clientID, body.Account, body.Email, false); err != nil {
			WriteError(w, err)
			return
		}
		a.setClientIDCookie(w, clientID)
	}

	params := &TokenParams{
		Account:                       body.Account,
		Email:                         body.Email,
		Type:                          tokenType,
		Hash:                          body.Hash,
		ClientID:                      clientID,
		ServiceID:                     body.ServiceID,
		AuthenticationMethod:          body.AuthenticationMethod,
		RequiredAuthenticationMethods: body.RequiredAuthenticationMethods,
		TypeOptions:                   body.TypeOptions,
	}

	if tokenType == TypeNonce {
		// since anyone can request a nonce, this is permitted without
		// authentication
		if _, err := a.Tokens.SetToken(r.Context(), params); err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// all other types require authentication to create
	if a.Middleware.LoggedInAccountID(r) == "" {
		WriteError(w, NewNotAllowedError(
			"Could not create authentication token; authentication required."))
		return
	}

	result, err := a.Tokens.SetToken(r.Context(), params)
	if err != nil {
		WriteError(w, err)
		return
	}

	// return appropriate data for each type, or none
	if tokenType == TypeTOTP {
		writeJSON(w, result)
	} else {
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleGetSalt returns the salt for a token. Authentication is not required
// by design: salts are not secret, and for unknown accounts the token
// service answers with a deterministic fake token so a miss costs the same
// as a hit.
func (a *TokenAuth) handleGetSalt(w http.ResponseWriter, r *http.Request) {
	tokenType := mux.Vars(r)["type"]
	account := r.URL.Query().Get("account")
	email := r.URL.Query().Get("email")

	token, err := a.Tokens.GetToken(r.Context(), account, email, tokenType)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, map[string]string{"salt": token.Salt})
}

func (a *TokenAuth) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	tokenType := mux.Vars(r)["type"]
	account := r.URL.Query().Get("account")
	tokenID := r.URL.Query().Get("tokenId")

	if err := a.Tokens.RemoveToken(r.Context(), account, tokenType, tokenID); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAuthenticate verifies a credential challenge and merges the
// satisfied method into the session accumulator.
func (a *TokenAuth) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var body authenticateRequest
	if !decodeBody(w, r, &body) {
		return
	}
	ctx := r.Context()

	// get previously authenticated methods from the session
	state := a.sessionAuthState(ctx)
	methods := append([]string(nil), state.AuthenticatedMethods...)

	clientID := a.clientIDFromRequest(r)

	// make sure the session data includes whether or not the token client
	// has registered: a previously registered device skips that factor
	if !state.Has(MethodClientRegistration) && clientID != "" {
		registered, err := a.Clients.IsClientRegistered(ctx, body.Account, body.Email, clientID)
		if err != nil {
			WriteError(w, err)
			return
		}
		if registered {
			methods = append(methods, MethodClientRegistration)
		}
	}

	result, err := a.Tokens.VerifyToken(ctx, &VerifyParams{
		Account:              body.Account,
		Email:                body.Email,
		Type:                 body.Type,
		Hash:                 body.Hash,
		Challenge:            body.Challenge,
		ClientID:             clientID,
		AuthenticatedMethods: methods,
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	if result == nil {
		// authentication failed
		WriteError(w, NewNotAllowedError("Not authenticated."))
		return
	}

	// update authenticated methods
	method := result.Token.AuthenticationMethod
	if method != "" && !slices.Contains(methods, method) {
		methods = append(methods, method)
	}

	// if the satisfied method is the client registration, mark the client
	// as authenticated
	if method == MethodClientRegistration {
		if err := a.registerClient(r, clientID, body.Account, body.Email, true); err != nil {
			WriteError(w, err)
			return
		}
	}

	state, err = a.updateSessionAuthState(ctx, result.AccountID, methods)
	if err != nil {
		WriteError(w, err)
		return
	}

	// get authentication method requirements from the account record
	account, err := a.Accounts.GetAccount(ctx, result.AccountID)
	if err != nil {
		WriteError(w, err)
		return
	}
	required := account.RequiredAuthenticationMethods
	if required == nil {
		required = []string{}
	}

	writeJSON(w, map[string]any{
		"account":                       map[string]string{"id": result.AccountID, "email": result.Email},
		"authenticated":                 true,
		"authenticatedMethods":          state.AuthenticatedMethods,
		"requiredAuthenticationMethods": required,
	})
}

// handleLogin delegates credential verification to a login strategy and, on
// success, establishes a login session. Failures are presented without
// revealing which factor was wrong: multifactor login gets a generic
// message, single factor names the possible causes.
func (a *TokenAuth) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeBody(w, r, &body) {
		return
	}
	ctx := r.Context()

	name := StrategyToken
	if body.Type == StrategyMultifactor {
		name = StrategyMultifactor
	}
	strategy, ok := a.Strategies[name]
	if !ok {
		log.Println("login strategy not configured: ", name)
		WriteError(w, NewNotAllowedError("Not authenticated."))
		return
	}

	state := a.sessionAuthState(ctx)
	account := body.Account
	if account == "" {
		account = state.Account
	}
	principal, err := strategy.Verify(ctx, &LoginCredentials{
		Type:                 body.Type,
		Account:              account,
		Email:                body.Email,
		Hash:                 body.Hash,
		Challenge:            body.Challenge,
		ClientID:             a.clientIDFromRequest(r),
		AuthenticatedMethods: state.AuthenticatedMethods,
	})
	if err != nil || principal == nil {
		if body.Type == StrategyMultifactor {
			WriteError(w, NewNotAllowedError("Not authenticated.").WithCause(err))
		} else {
			WriteError(w, NewNotAllowedError(
				"The email address and password or token combination is incorrect.").WithCause(err))
		}
		return
	}

	a.setLoggedInAccount(principal.AccountID, w, r)
	writeJSON(w, map[string]string{"account": principal.AccountID})
}

func (a *TokenAuth) handlePostRequirements(w http.ResponseWriter, r *http.Request) {
	var body requirementsRequest
	if !decodeBody(w, r, &body) {
		return
	}
	err := a.Tokens.SetAuthenticationRequirements(
		r.Context(), body.Account, body.RequiredAuthenticationMethods)
	if err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *TokenAuth) handleGetRequirements(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	methods, err := a.Tokens.GetAuthenticationRequirements(r.Context(), account)
	if err != nil {
		WriteError(w, err)
		return
	}
	if methods == nil {
		methods = []string{}
	}
	writeJSON(w, map[string]any{"requiredAuthenticationMethods": methods})
}

// handleGetRegistration reports whether the client id cookie (if any) is
// registered for the given email. Authentication is not required for
// obtaining registration status.
func (a *TokenAuth) handleGetRegistration(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	registered := false
	if clientID := a.clientIDFromRequest(r); clientID != "" {
		var err error
		registered, err = a.Clients.IsClientRegistered(r.Context(), "", email, clientID)
		if err != nil {
			WriteError(w, err)
			return
		}
	}
	writeJSON(w, map[string]bool{"registered": registered})
}

func (a *TokenAuth) handlePostRecovery(w http.ResponseWriter, r *http.Request) {
	var body recoveryRequest
	if !decodeBody(w, r, &body) {
		return
	}
	// TODO: support other recovery methods; only email supported presently
	if err := a.Tokens.SetRecoveryEmail(r.Context(), body.Account, body.RecoveryEmail); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeBody decodes a JSON request body, treating an empty body as the
// zero value. Writes an error response and returns false on invalid JSON.
func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	err := json.NewDecoder(r.Body).Decode(out)
	if err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
