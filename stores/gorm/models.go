//go:build !wasm
// +build !wasm

package gorm

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	oa "github.com/keramos/tokenauth"
)

// StringSlice is a helper type for storing string slices in GORM
type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

func (s *StringSlice) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, s)
}

// AccountModel is the GORM model for accounts
type AccountModel struct {
	ID                            string      `gorm:"primaryKey;size:64"`
	Email                         string      `gorm:"size:255;uniqueIndex"`
	RequiredAuthenticationMethods StringSlice `gorm:"type:jsonb"`
	RecoveryEmail                 string      `gorm:"size:255"`
	CreatedAt                     time.Time   `gorm:"autoCreateTime"`
	UpdatedAt                     time.Time   `gorm:"autoUpdateTime"`
}

func (AccountModel) TableName() string {
	return "authn_accounts"
}

// TokenModel is the GORM model for authentication tokens
type TokenModel struct {
	ID                            string      `gorm:"primaryKey;size:64"`
	AccountID                     string      `gorm:"size:64;index"`
	Type                          string      `gorm:"size:32;index"`
	Salt                          string      `gorm:"size:64"`
	Sha256                        string      `gorm:"size:64"`
	Secret                        string      `gorm:"size:64"`
	AuthenticationMethod          string      `gorm:"size:64"`
	RequiredAuthenticationMethods StringSlice `gorm:"type:jsonb"`
	Expires                       time.Time
	CreatedAt                     time.Time `gorm:"autoCreateTime"`
}

func (TokenModel) TableName() string {
	return "authn_tokens"
}

func (m *TokenModel) ToToken() *oa.Token {
	return &oa.Token{
		ID:                            m.ID,
		Type:                          m.Type,
		Salt:                          m.Salt,
		AuthenticationMethod:          m.AuthenticationMethod,
		RequiredAuthenticationMethods: m.RequiredAuthenticationMethods,
		Expires:                       m.Expires,
	}
}

// ClientModel is the GORM model for client registrations
type ClientModel struct {
	ClientID      string    `gorm:"primaryKey;size:64"`
	AccountID     string    `gorm:"primaryKey;size:64"`
	Email         string    `gorm:"primaryKey;size:255"`
	Authenticated bool      `gorm:"default:false"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (ClientModel) TableName() string {
	return "authn_clients"
}
