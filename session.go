package tokenauth

import (
	"context"
	"encoding/json"
)

// sessionDataKey is where the accumulator state lives inside the
// scs-managed session. Stored as JSON bytes so no codec registration is
// needed.
const sessionDataKey = "tokenauth.authn"

// AuthState records which authentication methods a principal has satisfied
// within the current session. The zero value is the unbound (empty) state.
type AuthState struct {
	Account              string   `json:"account,omitempty"`
	AuthenticatedMethods []string `json:"authenticatedMethods,omitempty"`
}

// Has reports whether the method has already been satisfied
func (s AuthState) Has(method string) bool {
	for _, m := range s.AuthenticatedMethods {
		if m == method {
			return true
		}
	}
	return false
}

// Record returns a new state with the methods recorded for the account. The
// first record binds the state to the account; a later record naming a
// different account fails with an InvalidStateError rather than silently
// rebinding, since that would let one session carry accumulated factors
// across accounts. Methods keep the insertion order of their first
// occurrence and are never duplicated.
func (s AuthState) Record(account string, methods ...string) (AuthState, error) {
	if s.Account != "" && s.Account != account {
		return s, NewInvalidStateError(
			"Could not update session authentication data; authenticated account has changed.")
	}
	out := AuthState{
		Account:              account,
		AuthenticatedMethods: append([]string(nil), s.AuthenticatedMethods...),
	}
	for _, m := range methods {
		if m != "" && !out.Has(m) {
			out.AuthenticatedMethods = append(out.AuthenticatedMethods, m)
		}
	}
	return out, nil
}

// sessionAuthState reads the accumulator state from the session
func (a *TokenAuth) sessionAuthState(ctx context.Context) AuthState {
	var state AuthState
	if b := a.Session.GetBytes(ctx, sessionDataKey); len(b) > 0 {
		if err := json.Unmarshal(b, &state); err != nil {
			return AuthState{}
		}
	}
	return state
}

// updateSessionAuthState records newly satisfied methods in the session. The
// state is re-read immediately before mutating so a concurrent request's
// update is less likely to be clobbered wholesale; there is no locking here
// and the last write still wins.
func (a *TokenAuth) updateSessionAuthState(ctx context.Context, account string, methods []string) (AuthState, error) {
	state := a.sessionAuthState(ctx)
	next, err := state.Record(account, methods...)
	if err != nil {
		return state, err
	}
	b, err := json.Marshal(next)
	if err != nil {
		return state, err
	}
	a.Session.Put(ctx, sessionDataKey, b)
	return next, nil
}
