package tokenauth

import (
	"context"
	"time"
)

// Token type names understood by the binding. Other types are passed through
// to the token service untouched.
const (
	TypeNonce    = "nonce"
	TypePassword = "password"
	TypeTOTP     = "totp"
)

// MethodClientRegistration is the authentication method name recorded when a
// device proves possession of a previously authenticated client id.
const MethodClientRegistration = "token-client-registration"

// Account is the identity record the binding reads after authentication.
type Account struct {
	ID    string `json:"id"`
	Email string `json:"email"`

	// Methods this account requires before multifactor login succeeds
	RequiredAuthenticationMethods []string `json:"requiredAuthenticationMethods,omitempty"`
}

// Token is the view of a stored token this layer is allowed to inspect. Hash
// parameters beyond the salt stay inside the token service.
type Token struct {
	ID                            string
	Type                          string
	Salt                          string
	AuthenticationMethod          string
	RequiredAuthenticationMethods []string
	Expires                       time.Time
}

// TokenParams carries the caller-supplied fields for token creation.
type TokenParams struct {
	Account                       string
	Email                         string
	Type                          string
	Hash                          string
	ClientID                      string
	ServiceID                     string
	AuthenticationMethod          string
	RequiredAuthenticationMethods []string
	TypeOptions                   map[string]any
}

// TokenCreation is the provisioning payload returned for totp tokens. Other
// token types return nil.
type TokenCreation struct {
	Algorithm  string `json:"algorithm"`
	Digits     int    `json:"digits"`
	ID         string `json:"id"`
	Step       int    `json:"step"`
	Type       string `json:"type"`
	Secret     string `json:"secret"`
	Label      string `json:"label"`
	OTPAuthURL string `json:"otpAuthUrl"`
}

// VerifyParams carries a credential challenge plus the session's accumulated
// authenticated methods, so the token service can decide whether
// cross-factor requirements are satisfied.
type VerifyParams struct {
	Account              string
	Email                string
	Type                 string
	Hash                 string
	Challenge            string
	ClientID             string
	AuthenticatedMethods []string
}

// VerifyResult is returned by a successful token verification.
type VerifyResult struct {
	AccountID string
	Email     string
	Token     *Token
}

// ClientRegistration binds a device/browser client id to an account or email
// and tracks whether that client has completed an authentication challenge.
type ClientRegistration struct {
	ClientID      string
	Account       string
	Email         string
	Authenticated bool
}

// TokenService is the external collaborator owning the token lifecycle:
// generation, hashing, salt derivation and fake-token anti-enumeration all
// live behind this interface.
type TokenService interface {
	// SetToken creates (or replaces) a token of the given type. The returned
	// creation payload is non-nil only for totp tokens.
	SetToken(ctx context.Context, params *TokenParams) (*TokenCreation, error)

	// GetToken returns the token for the account/email and type. For unknown
	// accounts implementations return a deterministic fake token instead of
	// an error; for known accounts with no matching token they return a
	// NotFoundError.
	GetToken(ctx context.Context, account, email, tokenType string) (*Token, error)

	// AllTokens lists the tokens of a type held by an account
	AllTokens(ctx context.Context, account, tokenType string) ([]*Token, error)

	// VerifyToken checks a credential challenge. A (nil, nil) return means
	// the credentials did not match; the caller decides how to present that.
	VerifyToken(ctx context.Context, params *VerifyParams) (*VerifyResult, error)

	// RemoveToken removes a token by id, or every token of the type when the
	// id is empty.
	RemoveToken(ctx context.Context, account, tokenType, id string) error

	// SetAuthenticationRequirements replaces the account's required
	// authentication method list.
	SetAuthenticationRequirements(ctx context.Context, account string, methods []string) error

	// GetAuthenticationRequirements returns the account's required
	// authentication method list.
	GetAuthenticationRequirements(ctx context.Context, account string) ([]string, error)

	// SetRecoveryEmail sets the recovery email on the account
	SetRecoveryEmail(ctx context.Context, account, recoveryEmail string) error
}

// ClientStore manages client registration records. All logic beyond the
// generate-if-absent client id rule lives behind this interface.
type ClientStore interface {
	// SetClient creates or updates a client registration record
	SetClient(ctx context.Context, reg *ClientRegistration) error

	// IsClientRegistered reports whether the client id has completed an
	// authentication challenge for the account or email. Unauthenticated
	// registration records do not count.
	IsClientRegistered(ctx context.Context, account, email, clientID string) (bool, error)
}

// AccountStore is the external identity store
type AccountStore interface {
	// GetAccount retrieves an account by id
	GetAccount(ctx context.Context, id string) (*Account, error)
}

// FakeTokenConfig parameterizes the anti-enumeration behavior of token
// service implementations.
type FakeTokenConfig struct {
	// Randomized delay added to lookups for unknown accounts; helps hide the
	// difference between finding an account and failing to find one.
	Jitter time.Duration

	// Secret that is SHA-256 hashed to produce the HMAC key used to generate
	// the same fake token for the same account. Rotating it gives the
	// appearance of changed hash parameters.
	HMACSecret string
}
