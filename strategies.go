package tokenauth

import (
	"context"
	"slices"
)

// Strategy names selectable by the login route's body `type` field
const (
	StrategyToken       = "token"
	StrategyMultifactor = "multifactor"
)

// Principal is a verified identity returned by a strategy
type Principal struct {
	AccountID string
	Email     string
}

// LoginCredentials carries the login request body plus the request's
// client id and the session's accumulated authenticated methods.
type LoginCredentials struct {
	// Token type being presented (defaults to password for the single
	// factor strategy)
	Type string

	Account   string
	Email     string
	Hash      string
	Challenge string
	ClientID  string

	// Methods already satisfied in this session
	AuthenticatedMethods []string
}

// Strategy verifies login credentials and returns the authenticated
// principal. Implementations return a public *Error on failure.
type Strategy interface {
	Name() string
	Verify(ctx context.Context, creds *LoginCredentials) (*Principal, error)
}

// TokenStrategy performs single-factor login by verifying the presented
// credential against the token service.
type TokenStrategy struct {
	Tokens TokenService
}

func (s *TokenStrategy) Name() string { return StrategyToken }

func (s *TokenStrategy) Verify(ctx context.Context, creds *LoginCredentials) (*Principal, error) {
	tokenType := creds.Type
	if tokenType == "" || tokenType == StrategyMultifactor {
		tokenType = TypePassword
	}
	result, err := s.Tokens.VerifyToken(ctx, &VerifyParams{
		Account:              creds.Account,
		Email:                creds.Email,
		Type:                 tokenType,
		Hash:                 creds.Hash,
		Challenge:            creds.Challenge,
		ClientID:             creds.ClientID,
		AuthenticatedMethods: creds.AuthenticatedMethods,
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, NewNotAllowedError(
			"The email address and password or token combination is incorrect.")
	}
	return &Principal{AccountID: result.AccountID, Email: result.Email}, nil
}

// MultifactorStrategy performs multi-factor login: every method the account
// requires must already have been satisfied in this session, so the factors
// themselves are verified one by one through the authenticate route before
// login is attempted.
type MultifactorStrategy struct {
	Accounts AccountStore
}

func (s *MultifactorStrategy) Name() string { return StrategyMultifactor }

func (s *MultifactorStrategy) Verify(ctx context.Context, creds *LoginCredentials) (*Principal, error) {
	if creds.Account == "" {
		return nil, NewNotAllowedError("Not authenticated.")
	}
	account, err := s.Accounts.GetAccount(ctx, creds.Account)
	if err != nil {
		return nil, NewNotAllowedError("Not authenticated.").WithCause(err)
	}
	if len(account.RequiredAuthenticationMethods) == 0 {
		// no requirements configured: at least one factor must have been
		// satisfied in this session
		if len(creds.AuthenticatedMethods) == 0 {
			return nil, NewNotAllowedError("Not authenticated.")
		}
	}
	for _, required := range account.RequiredAuthenticationMethods {
		if !slices.Contains(creds.AuthenticatedMethods, required) {
			return nil, NewNotAllowedError("Not authenticated.")
		}
	}
	return &Principal{AccountID: account.ID, Email: account.Email}, nil
}
