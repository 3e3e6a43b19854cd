package stores

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"

	oa "github.com/keramos/tokenauth"
)

// MemStoreConfig configures the in-memory reference backend
type MemStoreConfig struct {
	// Issuer used as the label issuer in totp provisioning payloads
	Issuer string

	// Anti-enumeration behavior for unknown accounts
	FakeTokens oa.FakeTokenConfig

	// Optional out-of-band delivery of nonce challenges
	Notifier oa.TokenNotifier

	// How long nonces stay valid. Defaults to 15 minutes
	NonceTTL time.Duration
}

type memAccount struct {
	ID                            string
	Email                         string
	RequiredAuthenticationMethods []string
	RecoveryEmail                 string
}

type memToken struct {
	ID                            string
	Type                          string
	Salt                          string
	Sha256                        string
	Secret                        string
	AuthenticationMethod          string
	RequiredAuthenticationMethods []string
	Expires                       time.Time
}

// MemStore is an in-memory token service, client store and account store.
// It implements the full collaborator surface the HTTP binding talks to and
// is intended for tests and demos, not production persistence.
type MemStore struct {
	mu       sync.Mutex
	cfg      MemStoreConfig
	accounts map[string]*memAccount
	emails   map[string]string
	tokens   map[string][]*memToken
	clients  map[string][]*oa.ClientRegistration
}

var (
	_ oa.TokenService = (*MemStore)(nil)
	_ oa.ClientStore  = (*MemStore)(nil)
	_ oa.AccountStore = (*MemStore)(nil)
)

func NewMemStore(cfg MemStoreConfig) *MemStore {
	if cfg.Issuer == "" {
		cfg.Issuer = "tokenauth"
	}
	if cfg.NonceTTL <= 0 {
		cfg.NonceTTL = 15 * time.Minute
	}
	return &MemStore{
		cfg:      cfg,
		accounts: map[string]*memAccount{},
		emails:   map[string]string{},
		tokens:   map[string][]*memToken{},
		clients:  map[string][]*oa.ClientRegistration{},
	}
}

// AddAccount seeds an account into the store
func (s *MemStore) AddAccount(id, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[id] = &memAccount{ID: id, Email: email}
	if email != "" {
		s.emails[email] = id
	}
}

func (s *MemStore) resolveLocked(account, email string) *memAccount {
	if account != "" {
		return s.accounts[account]
	}
	if email != "" {
		if id, ok := s.emails[email]; ok {
			return s.accounts[id]
		}
	}
	return nil
}

// GetAccount implements oa.AccountStore
func (s *MemStore) GetAccount(_ context.Context, id string) (*oa.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return nil, oa.NewNotFoundError("Account not found.")
	}
	return &oa.Account{
		ID:                            acct.ID,
		Email:                         acct.Email,
		RequiredAuthenticationMethods: append([]string(nil), acct.RequiredAuthenticationMethods...),
	}, nil
}

// SetToken creates (or replaces) a token for the account. Unknown accounts
// receive a fake response rather than an error so token creation cannot be
// used to enumerate accounts.
func (s *MemStore) SetToken(_ context.Context, params *oa.TokenParams) (*oa.TokenCreation, error) {
	s.mu.Lock()
	acct := s.resolveLocked(params.Account, params.Email)
	s.mu.Unlock()

	if acct == nil {
		FakeDelay(s.cfg.FakeTokens)
		if params.Type == oa.TypeTOTP {
			return s.fakeTOTPCreation(params), nil
		}
		return nil, nil
	}

	rec := &memToken{
		ID:                            uuid.NewString(),
		Type:                          params.Type,
		AuthenticationMethod:          params.AuthenticationMethod,
		RequiredAuthenticationMethods: append([]string(nil), params.RequiredAuthenticationMethods...),
	}
	var creation *oa.TokenCreation
	var challenge string

	switch params.Type {
	case oa.TypeNonce:
		challenge = RandomChallenge()
		rec.Salt = NewSalt()
		rec.Sha256 = HashChallenge(rec.Salt, challenge)
		rec.Expires = time.Now().Add(s.cfg.NonceTTL)
	case oa.TypePassword:
		if params.Hash == "" {
			return nil, oa.NewNotAllowedError("Could not create authentication token; hash is required.")
		}
		rec.Salt = BcryptSaltFromHash(params.Hash)
		rec.Sha256 = HashChallenge("", params.Hash)
	case oa.TypeTOTP:
		label := acct.Email
		if label == "" {
			label = acct.ID
		}
		key, err := totp.Generate(totp.GenerateOpts{
			Issuer:      s.cfg.Issuer,
			AccountName: label,
		})
		if err != nil {
			return nil, err
		}
		rec.Secret = key.Secret()
		creation = &oa.TokenCreation{
			Algorithm:  "SHA1",
			Digits:     6,
			ID:         rec.ID,
			Step:       30,
			Type:       oa.TypeTOTP,
			Secret:     key.Secret(),
			Label:      label,
			OTPAuthURL: key.URL(),
		}
	default:
		return nil, oa.NewNotFoundError("Unknown token type.")
	}

	s.mu.Lock()
	kept := s.tokens[acct.ID][:0]
	for _, t := range s.tokens[acct.ID] {
		if t.Type != rec.Type {
			kept = append(kept, t)
		}
	}
	s.tokens[acct.ID] = append(kept, rec)
	s.mu.Unlock()

	if challenge != "" && s.cfg.Notifier != nil && acct.Email != "" {
		if err := s.cfg.Notifier.NotifyTokenCreated(acct.Email, rec.Type, challenge); err != nil {
			return nil, err
		}
	}
	return creation, nil
}

// GetToken returns the stored token view for a salt lookup. Unknown
// accounts receive a deterministic fake token; known accounts without a
// matching token get a NotFoundError.
func (s *MemStore) GetToken(_ context.Context, account, email, tokenType string) (*oa.Token, error) {
	s.mu.Lock()
	acct := s.resolveLocked(account, email)
	var rec *memToken
	if acct != nil {
		rec = s.findLocked(acct.ID, tokenType)
	}
	s.mu.Unlock()

	if acct == nil {
		FakeDelay(s.cfg.FakeTokens)
		seed := account
		if seed == "" {
			seed = email
		}
		return &oa.Token{
			Type: tokenType,
			Salt: FakeSalt(s.cfg.FakeTokens, seed, tokenType),
		}, nil
	}
	if rec == nil {
		return nil, oa.NewNotFoundError("Authentication token not found.")
	}
	return tokenView(rec), nil
}

// AllTokens lists the tokens of a type held by an account
func (s *MemStore) AllTokens(_ context.Context, account, tokenType string) ([]*oa.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*oa.Token{}
	for _, rec := range s.tokens[account] {
		if tokenType == "" || rec.Type == tokenType {
			out = append(out, tokenView(rec))
		}
	}
	return out, nil
}

// VerifyToken checks the presented challenge or hash against the stored
// token. A (nil, nil) return means the credentials did not match.
func (s *MemStore) VerifyToken(_ context.Context, params *oa.VerifyParams) (*oa.VerifyResult, error) {
	s.mu.Lock()
	acct := s.resolveLocked(params.Account, params.Email)
	var rec *memToken
	if acct != nil {
		rec = s.findLocked(acct.ID, params.Type)
	}
	s.mu.Unlock()

	if acct == nil {
		FakeDelay(s.cfg.FakeTokens)
		return nil, nil
	}
	if rec == nil {
		return nil, nil
	}
	if !rec.Expires.IsZero() && time.Now().After(rec.Expires) {
		s.removeByID(acct.ID, rec.ID)
		return nil, nil
	}

	var ok bool
	switch rec.Type {
	case oa.TypeTOTP:
		ok = totp.Validate(params.Challenge, rec.Secret)
	case oa.TypeNonce:
		ok = constantTimeEqual(HashChallenge(rec.Salt, params.Challenge), rec.Sha256)
	case oa.TypePassword:
		ok = constantTimeEqual(HashChallenge("", params.Hash), rec.Sha256)
	}
	if !ok {
		return nil, nil
	}

	// cross-factor requirements attached to the token must already be
	// satisfied, counting the method this token itself vouches for
	for _, required := range rec.RequiredAuthenticationMethods {
		if required == rec.AuthenticationMethod {
			continue
		}
		if !containsMethod(params.AuthenticatedMethods, required) {
			return nil, nil
		}
	}

	// nonces are single use
	if rec.Type == oa.TypeNonce {
		s.removeByID(acct.ID, rec.ID)
	}

	return &oa.VerifyResult{
		AccountID: acct.ID,
		Email:     acct.Email,
		Token:     tokenView(rec),
	}, nil
}

// RemoveToken removes a token by id, or all tokens of the type when the id
// is empty
func (s *MemStore) RemoveToken(_ context.Context, account, tokenType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.tokens[account][:0]
	for _, rec := range s.tokens[account] {
		if rec.Type == tokenType && (id == "" || rec.ID == id) {
			continue
		}
		kept = append(kept, rec)
	}
	s.tokens[account] = kept
	return nil
}

func (s *MemStore) SetAuthenticationRequirements(_ context.Context, account string, methods []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[account]
	if !ok {
		return oa.NewNotFoundError("Account not found.")
	}
	acct.RequiredAuthenticationMethods = append([]string(nil), methods...)
	return nil
}

func (s *MemStore) GetAuthenticationRequirements(_ context.Context, account string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[account]
	if !ok {
		return nil, oa.NewNotFoundError("Account not found.")
	}
	return append([]string(nil), acct.RequiredAuthenticationMethods...), nil
}

func (s *MemStore) SetRecoveryEmail(_ context.Context, account, recoveryEmail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[account]
	if !ok {
		return oa.NewNotFoundError("Account not found.")
	}
	acct.RecoveryEmail = recoveryEmail
	return nil
}

// RecoveryEmail reports the recovery email currently set on an account
func (s *MemStore) RecoveryEmail(account string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct, ok := s.accounts[account]; ok {
		return acct.RecoveryEmail
	}
	return ""
}

// SetClient creates or updates a client registration record
func (s *MemStore) SetClient(_ context.Context, reg *oa.ClientRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.clients[reg.ClientID] {
		if clientMatches(existing, reg.Account, reg.Email) {
			existing.Authenticated = reg.Authenticated
			if existing.Account == "" {
				existing.Account = reg.Account
			}
			if existing.Email == "" {
				existing.Email = reg.Email
			}
			return nil
		}
	}
	copied := *reg
	s.clients[reg.ClientID] = append(s.clients[reg.ClientID], &copied)
	return nil
}

// IsClientRegistered reports whether the client id has completed an
// authentication challenge for the account or email
func (s *MemStore) IsClientRegistered(_ context.Context, account, email, clientID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, reg := range s.clients[clientID] {
		if clientMatches(reg, account, email) && reg.Authenticated {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStore) findLocked(accountID, tokenType string) *memToken {
	for _, rec := range s.tokens[accountID] {
		if rec.Type == tokenType {
			return rec
		}
	}
	return nil
}

func (s *MemStore) removeByID(accountID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.tokens[accountID][:0]
	for _, rec := range s.tokens[accountID] {
		if rec.ID != id {
			kept = append(kept, rec)
		}
	}
	s.tokens[accountID] = kept
}

func (s *MemStore) fakeTOTPCreation(params *oa.TokenParams) *oa.TokenCreation {
	seed := params.Account
	if seed == "" {
		seed = params.Email
	}
	secret := FakeTOTPSecret(s.cfg.FakeTokens, seed)
	return &oa.TokenCreation{
		Algorithm:  "SHA1",
		Digits:     6,
		ID:         FakeTokenID(s.cfg.FakeTokens, seed, params.Type),
		Step:       30,
		Type:       oa.TypeTOTP,
		Secret:     secret,
		Label:      seed,
		OTPAuthURL: "otpauth://totp/" + s.cfg.Issuer + ":" + seed + "?issuer=" + s.cfg.Issuer + "&secret=" + secret,
	}
}

func tokenView(rec *memToken) *oa.Token {
	return &oa.Token{
		ID:                            rec.ID,
		Type:                          rec.Type,
		Salt:                          rec.Salt,
		AuthenticationMethod:          rec.AuthenticationMethod,
		RequiredAuthenticationMethods: append([]string(nil), rec.RequiredAuthenticationMethods...),
		Expires:                       rec.Expires,
	}
}

func clientMatches(reg *oa.ClientRegistration, account, email string) bool {
	if account != "" && reg.Account == account {
		return true
	}
	if email != "" && reg.Email == email {
		return true
	}
	return false
}

func containsMethod(methods []string, method string) bool {
	for _, m := range methods {
		if m == method {
			return true
		}
	}
	return false
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// BcryptSaltFromHash extracts the salt prefix from a bcrypt-format hash so
// clients can derive the same hash again. Non-bcrypt hashes have no
// extractable salt.
func BcryptSaltFromHash(hash string) string {
	if len(hash) >= 29 && strings.HasPrefix(hash, "$2") {
		return hash[:29]
	}
	return ""
}

// HashChallenge produces the stored digest for a salted challenge
func HashChallenge(salt, challenge string) string {
	sum := sha256.Sum256([]byte(salt + ":" + challenge))
	return hex.EncodeToString(sum[:])
}
