package stores

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	mathrand "math/rand/v2"
	"time"

	oa "github.com/keramos/tokenauth"
)

// bcrypt's base64 variant, used so generated and fake salts look like real
// bcrypt salt strings
var bcryptB64 = base64.NewEncoding(
	"./ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789").WithPadding(base64.NoPadding)

// NewSalt generates a random bcrypt-format salt string
func NewSalt() string {
	b := make([]byte, 16)
	rand.Read(b)
	return "$2b$10$" + bcryptB64.EncodeToString(b)
}

// RandomChallenge generates a short random challenge suitable for emailed
// nonces
func RandomChallenge() string {
	b := make([]byte, 5)
	rand.Read(b)
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b)
}

// fakeHMAC derives the deterministic digest behind all fake-token fields.
// The configured secret is SHA-256 hashed to produce the HMAC key; the key
// can be rotated from time to time to give the appearance of a change in
// hash parameters.
func fakeHMAC(cfg oa.FakeTokenConfig, parts ...string) []byte {
	key := sha256.Sum256([]byte(cfg.HMACSecret))
	mac := hmac.New(sha256.New, key[:])
	for i, p := range parts {
		if i > 0 {
			mac.Write([]byte{':'})
		}
		mac.Write([]byte(p))
	}
	return mac.Sum(nil)
}

// FakeSalt produces the same fake bcrypt-format salt for the same account
// and token type, so salt lookups for unknown accounts are indistinguishable
// from real ones.
func FakeSalt(cfg oa.FakeTokenConfig, seed, tokenType string) string {
	digest := fakeHMAC(cfg, "salt", seed, tokenType)
	return "$2b$10$" + bcryptB64.EncodeToString(digest[:16])
}

// FakeTOTPSecret produces a deterministic base32 secret for fake totp
// provisioning payloads
func FakeTOTPSecret(cfg oa.FakeTokenConfig, seed string) string {
	digest := fakeHMAC(cfg, "secret", seed)
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(digest[:20])
}

// FakeTokenID produces a deterministic token id for fake responses
func FakeTokenID(cfg oa.FakeTokenConfig, seed, tokenType string) string {
	digest := fakeHMAC(cfg, "id", seed, tokenType)
	return hex.EncodeToString(digest[:16])
}

// FakeDelay sleeps for a random duration up to the configured jitter. Helps
// hide the time difference between finding an account and failing to find
// one.
func FakeDelay(cfg oa.FakeTokenConfig) {
	if cfg.Jitter <= 0 {
		return
	}
	time.Sleep(mathrand.N(cfg.Jitter))
}
