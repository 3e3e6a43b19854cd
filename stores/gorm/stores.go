//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"gorm.io/gorm"

	oa "github.com/keramos/tokenauth"
	"github.com/keramos/tokenauth/stores"
)

// AutoMigrate runs database migrations for all tokenauth tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&AccountModel{},
		&TokenModel{},
		&ClientModel{},
	)
}

// Config configures the GORM-backed token service
type Config struct {
	Issuer     string
	FakeTokens oa.FakeTokenConfig
	Notifier   oa.TokenNotifier
	NonceTTL   time.Duration
}

// Store implements the token service, client store and account store over an
// injected *gorm.DB. Database drivers stay outside this module.
type Store struct {
	db  *gorm.DB
	cfg Config
}

var (
	_ oa.TokenService = (*Store)(nil)
	_ oa.ClientStore  = (*Store)(nil)
	_ oa.AccountStore = (*Store)(nil)
)

func New(db *gorm.DB, cfg Config) *Store {
	if cfg.Issuer == "" {
		cfg.Issuer = "tokenauth"
	}
	if cfg.NonceTTL <= 0 {
		cfg.NonceTTL = 15 * time.Minute
	}
	return &Store{db: db, cfg: cfg}
}

func (s *Store) resolve(account, email string) (*AccountModel, error) {
	var model AccountModel
	var err error
	if account != "" {
		err = s.db.First(&model, "id = ?", account).Error
	} else if email != "" {
		err = s.db.First(&model, "email = ?", email).Error
	} else {
		err = gorm.ErrRecordNotFound
	}
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &model, nil
}

// GetAccount implements oa.AccountStore
func (s *Store) GetAccount(_ context.Context, id string) (*oa.Account, error) {
	var model AccountModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, oa.NewNotFoundError("Account not found.")
		}
		return nil, err
	}
	return &oa.Account{
		ID:                            model.ID,
		Email:                         model.Email,
		RequiredAuthenticationMethods: model.RequiredAuthenticationMethods,
	}, nil
}

// SaveAccount creates or updates an account record (upsert)
func (s *Store) SaveAccount(id, email string) error {
	return s.db.Save(&AccountModel{ID: id, Email: email}).Error
}

func (s *Store) SetToken(_ context.Context, params *oa.TokenParams) (*oa.TokenCreation, error) {
	acct, err := s.resolve(params.Account, params.Email)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		stores.FakeDelay(s.cfg.FakeTokens)
		return nil, nil
	}

	model := &TokenModel{
		ID:                            uuid.NewString(),
		AccountID:                     acct.ID,
		Type:                          params.Type,
		AuthenticationMethod:          params.AuthenticationMethod,
		RequiredAuthenticationMethods: params.RequiredAuthenticationMethods,
	}
	var creation *oa.TokenCreation
	var challenge string

	switch params.Type {
	case oa.TypeNonce:
		challenge = stores.RandomChallenge()
		model.Salt = stores.NewSalt()
		model.Sha256 = stores.HashChallenge(model.Salt, challenge)
		model.Expires = time.Now().Add(s.cfg.NonceTTL)
	case oa.TypePassword:
		if params.Hash == "" {
			return nil, oa.NewNotAllowedError("Could not create authentication token; hash is required.")
		}
		model.Salt = stores.BcryptSaltFromHash(params.Hash)
		model.Sha256 = stores.HashChallenge("", params.Hash)
	case oa.TypeTOTP:
		label := acct.Email
		if label == "" {
			label = acct.ID
		}
		key, err := totp.Generate(totp.GenerateOpts{Issuer: s.cfg.Issuer, AccountName: label})
		if err != nil {
			return nil, err
		}
		model.Secret = key.Secret()
		creation = &oa.TokenCreation{
			Algorithm:  "SHA1",
			Digits:     6,
			ID:         model.ID,
			Step:       30,
			Type:       oa.TypeTOTP,
			Secret:     key.Secret(),
			Label:      label,
			OTPAuthURL: key.URL(),
		}
	default:
		return nil, oa.NewNotFoundError("Unknown token type.")
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&TokenModel{}, "account_id = ? AND type = ?", acct.ID, params.Type).Error; err != nil {
			return err
		}
		return tx.Create(model).Error
	})
	if err != nil {
		return nil, err
	}

	if challenge != "" && s.cfg.Notifier != nil && acct.Email != "" {
		if err := s.cfg.Notifier.NotifyTokenCreated(acct.Email, params.Type, challenge); err != nil {
			return nil, err
		}
	}
	return creation, nil
}

func (s *Store) GetToken(_ context.Context, account, email, tokenType string) (*oa.Token, error) {
	acct, err := s.resolve(account, email)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		stores.FakeDelay(s.cfg.FakeTokens)
		seed := account
		if seed == "" {
			seed = email
		}
		return &oa.Token{Type: tokenType, Salt: stores.FakeSalt(s.cfg.FakeTokens, seed, tokenType)}, nil
	}

	var model TokenModel
	err = s.db.First(&model, "account_id = ? AND type = ?", acct.ID, tokenType).Error
	if err == gorm.ErrRecordNotFound {
		return nil, oa.NewNotFoundError("Authentication token not found.")
	}
	if err != nil {
		return nil, err
	}
	return model.ToToken(), nil
}

func (s *Store) AllTokens(_ context.Context, account, tokenType string) ([]*oa.Token, error) {
	var models []TokenModel
	q := s.db.Where("account_id = ?", account)
	if tokenType != "" {
		q = q.Where("type = ?", tokenType)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := []*oa.Token{}
	for i := range models {
		out = append(out, models[i].ToToken())
	}
	return out, nil
}

func (s *Store) VerifyToken(_ context.Context, params *oa.VerifyParams) (*oa.VerifyResult, error) {
	acct, err := s.resolve(params.Account, params.Email)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		stores.FakeDelay(s.cfg.FakeTokens)
		return nil, nil
	}

	var model TokenModel
	err = s.db.First(&model, "account_id = ? AND type = ?", acct.ID, params.Type).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !model.Expires.IsZero() && time.Now().After(model.Expires) {
		s.db.Delete(&TokenModel{}, "id = ?", model.ID)
		return nil, nil
	}

	var ok bool
	switch model.Type {
	case oa.TypeTOTP:
		ok = totp.Validate(params.Challenge, model.Secret)
	case oa.TypeNonce:
		ok = timingSafeEqual(stores.HashChallenge(model.Salt, params.Challenge), model.Sha256)
	case oa.TypePassword:
		ok = timingSafeEqual(stores.HashChallenge("", params.Hash), model.Sha256)
	}
	if !ok {
		return nil, nil
	}

	for _, required := range model.RequiredAuthenticationMethods {
		if required == model.AuthenticationMethod {
			continue
		}
		if !containsMethod(params.AuthenticatedMethods, required) {
			return nil, nil
		}
	}

	if model.Type == oa.TypeNonce {
		s.db.Delete(&TokenModel{}, "id = ?", model.ID)
	}

	return &oa.VerifyResult{
		AccountID: acct.ID,
		Email:     acct.Email,
		Token:     model.ToToken(),
	}, nil
}

func (s *Store) RemoveToken(_ context.Context, account, tokenType, id string) error {
	q := s.db.Where("account_id = ? AND type = ?", account, tokenType)
	if id != "" {
		q = q.Where("id = ?", id)
	}
	return q.Delete(&TokenModel{}).Error
}

func (s *Store) SetAuthenticationRequirements(_ context.Context, account string, methods []string) error {
	result := s.db.Model(&AccountModel{}).Where("id = ?", account).
		Update("required_authentication_methods", StringSlice(methods))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return oa.NewNotFoundError("Account not found.")
	}
	return nil
}

func (s *Store) GetAuthenticationRequirements(_ context.Context, account string) ([]string, error) {
	var model AccountModel
	if err := s.db.First(&model, "id = ?", account).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, oa.NewNotFoundError("Account not found.")
		}
		return nil, err
	}
	return model.RequiredAuthenticationMethods, nil
}

func (s *Store) SetRecoveryEmail(_ context.Context, account, recoveryEmail string) error {
	result := s.db.Model(&AccountModel{}).Where("id = ?", account).
		Update("recovery_email", recoveryEmail)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return oa.NewNotFoundError("Account not found.")
	}
	return nil
}

func (s *Store) SetClient(_ context.Context, reg *oa.ClientRegistration) error {
	model := &ClientModel{
		ClientID:      reg.ClientID,
		AccountID:     reg.Account,
		Email:         reg.Email,
		Authenticated: reg.Authenticated,
	}
	return s.db.Save(model).Error
}

func (s *Store) IsClientRegistered(_ context.Context, account, email, clientID string) (bool, error) {
	var models []ClientModel
	err := s.db.Where("client_id = ?", clientID).Find(&models).Error
	if err != nil {
		return false, err
	}
	for _, m := range models {
		matches := (account != "" && m.AccountID == account) || (email != "" && m.Email == email)
		if matches && m.Authenticated {
			return true, nil
		}
	}
	return false, nil
}

func containsMethod(methods []string, method string) bool {
	for _, m := range methods {
		if m == method {
			return true
		}
	}
	return false
}

func timingSafeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
