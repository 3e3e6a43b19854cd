package tokenauth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	oa "github.com/keramos/tokenauth"
	"github.com/keramos/tokenauth/stores"
)

// captureNotifier records the last challenge delivered to each email
type captureNotifier struct {
	mu         sync.Mutex
	challenges map[string]string
}

func (n *captureNotifier) NotifyTokenCreated(email, tokenType, challenge string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.challenges == nil {
		n.challenges = map[string]string{}
	}
	n.challenges[email] = challenge
	return nil
}

func (n *captureNotifier) last(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.challenges[email]
}

// newTestAuth builds a binding backed by the in-memory store. The client id
// cookie is not marked Secure so the cookie jar accepts it over plain http.
func newTestAuth(t *testing.T, notifier oa.TokenNotifier) (*oa.TokenAuth, *stores.MemStore) {
	t.Helper()
	store := stores.NewMemStore(stores.MemStoreConfig{
		Issuer:     "testapp",
		Notifier:   notifier,
		FakeTokens: oa.FakeTokenConfig{HMACSecret: "test-hmac-secret"},
	})
	auth := oa.New("testapp")
	auth.Tokens = store
	auth.Clients = store
	auth.Accounts = store
	auth.ClientIDCookie = oa.CookieConfig{Name: "cid", MaxAge: time.Hour, HTTPOnly: true}
	auth.EnsureDefaults()
	return auth, store
}

func newTestServer(t *testing.T, auth *oa.TokenAuth) (*httptest.Server, *http.Client) {
	t.Helper()
	srv := httptest.NewServer(auth.Handler())
	t.Cleanup(srv.Close)
	return srv, newTestClient(t)
}

func newTestClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("Failed to create cookie jar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	return resp, data
}

// bearerAuth signs a JWT the middleware will accept, so tests can make
// authenticated requests without running a login flow first
func bearerAuth(t *testing.T, auth *oa.TokenAuth, accountID string) map[string]string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": accountID,
		"iss": auth.JwtIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	})
	signed, err := token.SignedString([]byte(auth.JWTSecretKey))
	if err != nil {
		t.Fatalf("Failed to sign auth token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + signed}
}

func assertAPIError(t *testing.T, resp *http.Response, data []byte, status int, kind, message string) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("Expected status %d, got %d. Body: %s", status, resp.StatusCode, data)
	}
	var body map[string]string
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("Failed to decode error body %q: %v", data, err)
	}
	if body["type"] != kind {
		t.Errorf("Expected error type %q, got %q", kind, body["type"])
	}
	if body["error"] != message {
		t.Errorf("Expected error message %q, got %q", message, body["error"])
	}
}

func bcryptHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	return string(hash)
}

func TestCreateTokenErrors(t *testing.T) {
	auth, store := newTestAuth(t, nil)
	store.AddAccount("acct-1", "user@example.com")
	srv, client := newTestServer(t, auth)
	authed := bearerAuth(t, auth, "acct-1")

	tests := []struct {
		name       string
		path       string
		body       map[string]any
		headers    map[string]string
		wantStatus int
		wantType   string
		wantError  string
	}{
		{
			name:       "unknown token type",
			path:       "/authn/token/badType",
			body:       map[string]any{"account": "acct-1"},
			headers:    authed,
			wantStatus: http.StatusNotFound,
			wantType:   "NotFoundError",
			wantError:  "Unknown token type.",
		},
		{
			name:       "totp requires authentication",
			path:       "/authn/token/totp",
			body:       map[string]any{"account": "acct-1"},
			wantStatus: http.StatusBadRequest,
			wantType:   "NotAllowedError",
			wantError:  "Could not create authentication token; authentication required.",
		},
		{
			name:       "password requires authentication",
			path:       "/authn/token/password",
			body:       map[string]any{"account": "acct-1", "hash": "not-a-real-hash"},
			wantStatus: http.StatusBadRequest,
			wantType:   "NotAllowedError",
			wantError:  "Could not create authentication token; authentication required.",
		},
		{
			name:       "password requires a hash",
			path:       "/authn/token/password",
			body:       map[string]any{"account": "acct-1"},
			headers:    authed,
			wantStatus: http.StatusBadRequest,
			wantType:   "NotAllowedError",
			wantError:  "Could not create authentication token; hash is required.",
		},
		{
			name:       "empty token type is not routed",
			path:       "/authn/token/",
			body:       map[string]any{"account": "acct-1"},
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := doJSON(t, client, http.MethodPost, srv.URL+tt.path, tt.body, tt.headers)
			if tt.wantType == "" {
				if resp.StatusCode != tt.wantStatus {
					t.Errorf("Expected status %d, got %d. Body: %s", tt.wantStatus, resp.StatusCode, data)
				}
				return
			}
			assertAPIError(t, resp, data, tt.wantStatus, tt.wantType, tt.wantError)
		})
	}
}

func TestCreateTOTPToken(t *testing.T) {
	auth, store := newTestAuth(t, nil)
	store.AddAccount("acct-1", "user@example.com")
	srv, client := newTestServer(t, auth)

	resp, data := doJSON(t, client, http.MethodPost, srv.URL+"/authn/token/totp",
		map[string]any{"account": "acct-1", "authenticationMethod": "totp-challenge"},
		bearerAuth(t, auth, "acct-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", resp.StatusCode, data)
	}

	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("Failed to decode body %q: %v", data, err)
	}
	for _, key := range []string{"algorithm", "digits", "id", "step", "type", "secret", "label", "otpAuthUrl"} {
		if _, ok := body[key]; !ok {
			t.Errorf("Expected key %q in provisioning payload: %s", key, data)
		}
	}
	if len(body) != 8 {
		t.Errorf("Expected exactly 8 keys in provisioning payload, got %d: %s", len(body), data)
	}
	if body["type"] != "totp" {
		t.Errorf("Expected type totp, got %v", body["type"])
	}
	if body["digits"] != float64(6) || body["step"] != float64(30) {
		t.Errorf("Expected 6 digits and a 30 second step, got %v/%v", body["digits"], body["step"])
	}
	if body["label"] != "user@example.com" {
		t.Errorf("Expected the email as label, got %v", body["label"])
	}
	otpURL, _ := body["otpAuthUrl"].(string)
	if !strings.HasPrefix(otpURL, "otpauth://totp/") {
		t.Errorf("Expected an otpauth url, got %q", otpURL)
	}
}

func TestGetSalt(t *testing.T) {
	auth, store := newTestAuth(t, nil)
	store.AddAccount("acct-1", "user@example.com")
	srv, client := newTestServer(t, auth)

	hash := bcryptHash(t, "correct horse battery staple")
	resp, data := doJSON(t, client, http.MethodPost, srv.URL+"/authn/token/password",
		map[string]any{"account": "acct-1", "hash": hash}, bearerAuth(t, auth, "acct-1"))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected status 204 creating the password token, got %d. Body: %s", resp.StatusCode, data)
	}

	t.Run("known account returns the stored salt", func(t *testing.T) {
		resp, data := doJSON(t, client, http.MethodGet,
			srv.URL+"/authn/token/password/salt?account=acct-1", nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected status 200, got %d. Body: %s", resp.StatusCode, data)
		}
		var body map[string]string
		if err := json.Unmarshal(data, &body); err != nil {
			t.Fatalf("Failed to decode body: %v", err)
		}
		if body["salt"] != hash[:29] {
			t.Errorf("Expected salt %q, got %q", hash[:29], body["salt"])
		}
	})

	t.Run("known account without a token gets a 404", func(t *testing.T) {
		resp, data := doJSON(t, client, http.MethodGet,
			srv.URL+"/authn/token/totp/salt?account=acct-1", nil, nil)
		assertAPIError(t, resp, data, http.StatusNotFound, "NotFoundError", "Authentication token not found.")
	})

	t.Run("unknown account gets a deterministic fake salt", func(t *testing.T) {
		getSalt := func(account string) string {
			resp, data := doJSON(t, client, http.MethodGet,
				srv.URL+"/authn/token/password/salt?account="+account, nil, nil)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("Expected status 200, got %d. Body: %s", resp.StatusCode, data)
			}
			var body map[string]string
			if err := json.Unmarshal(data, &body); err != nil {
				t.Fatalf("Failed to decode body: %v", err)
			}
			return body["salt"]
		}

		first := getSalt("no-such-account")
		second := getSalt("no-such-account")
		other := getSalt("another-missing-account")

		if first != second {
			t.Errorf("Expected the same fake salt on repeat lookups, got %q then %q", first, second)
		}
		if first == other {
			t.Error("Expected different accounts to get different fake salts")
		}
		if !strings.HasPrefix(first, "$2b$10$") || len(first) != 29 {
			t.Errorf("Expected a bcrypt-shaped salt, got %q", first)
		}
	})
}

func TestDeleteToken(t *testing.T) {
	auth, store := newTestAuth(t, nil)
	store.AddAccount("acct-1", "user@example.com")
	srv, client := newTestServer(t, auth)
	authed := bearerAuth(t, auth, "acct-1")

	hash := bcryptHash(t, "hunter22hunter22")
	doJSON(t, client, http.MethodPost, srv.URL+"/authn/token/password",
		map[string]any{"account": "acct-1", "hash": hash}, authed)

	resp, data := doJSON(t, client, http.MethodDelete,
		srv.URL+"/authn/token/password?account=acct-1", nil, nil)
	assertAPIError(t, resp, data, http.StatusBadRequest, "NotAllowedError", "Authentication required.")

	resp, data = doJSON(t, client, http.MethodDelete,
		srv.URL+"/authn/token/password?account=acct-1", nil, authed)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d. Body: %s", resp.StatusCode, data)
	}

	remaining, err := store.AllTokens(context.Background(), "acct-1", "password")
	if err != nil {
		t.Fatalf("AllTokens failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("Expected no password tokens after delete, got %d", len(remaining))
	}
}

func TestNonceAuthenticationFlow(t *testing.T) {
	notifier := &captureNotifier{}
	auth, store := newTestAuth(t, notifier)
	store.AddAccount("acct-1", "user@example.com")
	srv, client := newTestServer(t, auth)

	// request a nonce that doubles as the client registration challenge
	resp, data := doJSON(t, client, http.MethodPost, srv.URL+"/authn/token/nonce",
		map[string]any{"account": "acct-1", "authenticationMethod": "token-client-registration"}, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected status 204 creating the nonce, got %d. Body: %s", resp.StatusCode, data)
	}

	srvURL, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("Failed to parse server url: %v", err)
	}
	clientID := ""
	for _, cookie := range client.Jar.Cookies(srvURL) {
		if cookie.Name == "cid" {
			clientID = cookie.Value
		}
	}
	if clientID == "" {
		t.Fatal("Expected the cid cookie to be set when registering a client")
	}

	challenge := notifier.last("user@example.com")
	if challenge == "" {
		t.Fatal("Expected a challenge to be delivered to the account email")
	}

	// authenticate with the delivered challenge
	resp, data = doJSON(t, client, http.MethodPost, srv.URL+"/authn/token/authenticate",
		map[string]any{"type": "nonce", "account": "acct-1", "challenge": challenge}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200 authenticating, got %d. Body: %s", resp.StatusCode, data)
	}
	var body struct {
		Account struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"account"`
		Authenticated                 bool     `json:"authenticated"`
		AuthenticatedMethods          []string `json:"authenticatedMethods"`
		RequiredAuthenticationMethods []string `json:"requiredAuthenticationMethods"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("Failed to decode body %q: %v", data, err)
	}
	if !body.Authenticated || body.Account.ID != "acct-1" || body.Account.Email != "user@example.com" {
		t.Errorf("Unexpected authenticate response: %s", data)
	}
	if len(body.AuthenticatedMethods) != 1 || body.AuthenticatedMethods[0] != "token-client-registration" {
		t.Errorf("Expected the client registration method to be recorded, got %v", body.AuthenticatedMethods)
	}
	if body.RequiredAuthenticationMethods == nil {
		t.Error("Expected requiredAuthenticationMethods to be an empty list, got null")
	}

	// the client is now registered for the account's email
	resp, data = doJSON(t, client, http.MethodGet,
		srv.URL+"/authn/token/client/registration?email=user@example.com", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", resp.StatusCode, data)
	}
	var reg map[string]bool
	if err := json.Unmarshal(data, &reg); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if !reg["registered"] {
		t.Error("Expected the client to be registered after authenticating")
	}

	// nonces are single use
	resp, data = doJSON(t, client, http.MethodPost, srv.URL+"/authn/token/authenticate",
		map[string]any{"type": "nonce", "account": "acct-1", "challenge": challenge}, nil)
	assertAPIError(t, resp, data, http.StatusBadRequest, "NotAllowedError", "Not authenticated.")

	// with a factor accumulated in the session, multifactor login succeeds
	resp, data = doJSON(t, client, http.MethodPost, srv.URL+"/authn/token/login",
		map[string]any{"type": "multifactor", "account": "acct-1"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200 logging in, got %d. Body: %s", resp.StatusCode, data)
	}
	var login map[string]string
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if login["account"] != "acct-1" {
		t.Errorf("Expected account acct-1, got %q", login["account"])
	}

	loggedIn := false
	for _, cookie := range client.Jar.Cookies(srvURL) {
		if cookie.Name == auth.AuthTokenSessionVar && cookie.Value != "" {
			loggedIn = true
		}
	}
	if !loggedIn {
		t.Errorf("Expected the %s cookie to be set after login", auth.AuthTokenSessionVar)
	}
}

func TestAuthenticateWrongChallenge(t *testing.T) {
	notifier := &captureNotifier{}
	auth, store := newTestAuth(t, notifier)
	store.AddAccount("acct-1", "user@example.com")
	srv, client := newTestServer(t, auth)

	doJSON(t, client, http.MethodPost, srv.URL+"/authn/token/nonce",
		map[string]any{"account": "acct-1"}, nil)

	resp, data := doJSON(t, client, http.MethodPost, srv.URL+"/authn/token/authenticate",
		map[string]any{"type": "nonce", "account": "acct-1", "challenge": "WRONGONE"}, nil)
	assertAPIError(t, resp, data, http.StatusBadRequest, "NotAllowedError", "Not authenticated.")
}

func TestAuthenticateTOTP(t *testing.T) {
	auth, store := newTestAuth(t, nil)
	store.AddAccount("acct-1", "user@example.com")
	srv, client := newTestServer(t, auth)

	resp, data := doJSON(t, client, http.MethodPost, srv.URL+"/authn/token/totp",
		map[string]any{"account": "acct-1", "authenticationMethod": "totp-challenge"},
		bearerAuth(t, auth, "acct-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200 creating the totp token, got %d. Body: %s", resp.StatusCode, data)
	}
	var creation map[string]any
	if err := json.Unmarshal(data, &creation); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	secret, _ := creation["secret"].(string)

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("Failed to generate totp code: %v", err)
	}

	// a fresh client, as if the user moved to a new browser
	other := newTestClient(t)
	resp, data = doJSON(t, other, http.MethodPost, srv.URL+"/authn/token/authenticate",
		map[string]any{"type": "totp", "account": "acct-1", "challenge": code}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", resp.StatusCode, data)
	}
	var body struct {
		AuthenticatedMethods []string `json:"authenticatedMethods"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if len(body.AuthenticatedMethods) != 1 || body.AuthenticatedMethods[0] != "totp-challenge" {
		t.Errorf("Expected the totp method to be recorded, got %v", body.AuthenticatedMethods)
	}
}

func TestLoginPassword(t *testing.T) {
	auth, store := newTestAuth(t, nil)
	store.AddAccount("acct-1", "user@example.com")
	srv, client := newTestServer(t, auth)

	hash := bcryptHash(t, "correct horse battery staple")
	resp, data := doJSON(t, client, http.MethodPost, srv.URL+"/authn/token/password",
		map[string]any{"account": "acct-1", "hash": hash}, bearerAuth(t, auth, "acct-1"))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected status 204 creating the password token, got %d. Body: %s", resp.StatusCode, data)
	}

	// a fresh client with no session or bearer credentials
	other := newTestClient(t)

	resp, data = doJSON(t, other, http.MethodPost, srv.URL+"/authn/token/login",
		map[string]any{"account": "acct-1", "hash": "wrong-hash"}, nil)
	assertAPIError(t, resp, data, http.StatusBadRequest, "NotAllowedError",
		"The email address and password or token combination is incorrect.")

	resp, data = doJSON(t, other, http.MethodPost, srv.URL+"/authn/token/login",
		map[string]any{"account": "acct-1", "hash": hash}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", resp.StatusCode, data)
	}
	var login map[string]string
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if login["account"] != "acct-1" {
		t.Errorf("Expected account acct-1, got %q", login["account"])
	}

	// the login session now authenticates protected routes without a bearer token
	resp, data = doJSON(t, other, http.MethodGet,
		srv.URL+"/authn/token/requirements?account=acct-1", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected the session to authenticate the request, got %d. Body: %s", resp.StatusCode, data)
	}
}

func TestLoginMultifactorRequiresFactors(t *testing.T) {
	auth, store := newTestAuth(t, nil)
	store.AddAccount("acct-1", "user@example.com")
	if err := store.SetAuthenticationRequirements(context.Background(), "acct-1",
		[]string{"totp-challenge", "token-client-registration"}); err != nil {
		t.Fatalf("SetAuthenticationRequirements failed: %v", err)
	}
	srv, client := newTestServer(t, auth)

	resp, data := doJSON(t, client, http.MethodPost, srv.URL+"/authn/token/login",
		map[string]any{"type": "multifactor", "account": "acct-1"}, nil)
	assertAPIError(t, resp, data, http.StatusBadRequest, "NotAllowedError", "Not authenticated.")
}

func TestRequirements(t *testing.T) {
	auth, store := newTestAuth(t, nil)
	store.AddAccount("acct-1", "user@example.com")
	srv, client := newTestServer(t, auth)
	authed := bearerAuth(t, auth, "acct-1")

	resp, data := doJSON(t, client, http.MethodGet,
		srv.URL+"/authn/token/requirements?account=acct-1", nil, nil)
	assertAPIError(t, resp, data, http.StatusBadRequest, "NotAllowedError", "Authentication required.")

	resp, data = doJSON(t, client, http.MethodGet,
		srv.URL+"/authn/token/requirements?account=acct-1", nil, authed)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", resp.StatusCode, data)
	}
	if !strings.Contains(string(data), "[]") {
		t.Errorf("Expected an empty list when no requirements are set, got %s", data)
	}

	resp, data = doJSON(t, client, http.MethodPost, srv.URL+"/authn/token/requirements",
		map[string]any{
			"account":                       "acct-1",
			"requiredAuthenticationMethods": []string{"totp-challenge", "token-client-registration"},
		}, authed)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d. Body: %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, client, http.MethodGet,
		srv.URL+"/authn/token/requirements?account=acct-1", nil, authed)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", resp.StatusCode, data)
	}
	var body struct {
		RequiredAuthenticationMethods []string `json:"requiredAuthenticationMethods"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	want := []string{"totp-challenge", "token-client-registration"}
	if len(body.RequiredAuthenticationMethods) != len(want) {
		t.Fatalf("Expected requirements %v, got %v", want, body.RequiredAuthenticationMethods)
	}
	for i, m := range want {
		if body.RequiredAuthenticationMethods[i] != m {
			t.Errorf("Expected requirements %v, got %v", want, body.RequiredAuthenticationMethods)
			break
		}
	}
}

func TestRecovery(t *testing.T) {
	auth, store := newTestAuth(t, nil)
	store.AddAccount("acct-1", "user@example.com")
	srv, client := newTestServer(t, auth)

	resp, data := doJSON(t, client, http.MethodPost, srv.URL+"/authn/token/recovery",
		map[string]any{"account": "acct-1", "recoveryEmail": "backup@example.com"}, nil)
	assertAPIError(t, resp, data, http.StatusBadRequest, "NotAllowedError", "Authentication required.")

	resp, data = doJSON(t, client, http.MethodPost, srv.URL+"/authn/token/recovery",
		map[string]any{"account": "acct-1", "recoveryEmail": "backup@example.com"},
		bearerAuth(t, auth, "acct-1"))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d. Body: %s", resp.StatusCode, data)
	}
	if got := store.RecoveryEmail("acct-1"); got != "backup@example.com" {
		t.Errorf("Expected the recovery email to be stored, got %q", got)
	}
}

func TestClientIDReusedAcrossRegistrations(t *testing.T) {
	notifier := &captureNotifier{}
	auth, store := newTestAuth(t, notifier)
	store.AddAccount("acct-1", "user@example.com")
	store.AddAccount("acct-2", "other@example.com")
	srv, client := newTestServer(t, auth)

	srvURL, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("Failed to parse server url: %v", err)
	}
	cidValue := func() string {
		for _, cookie := range client.Jar.Cookies(srvURL) {
			if cookie.Name == "cid" {
				return cookie.Value
			}
		}
		return ""
	}

	doJSON(t, client, http.MethodPost, srv.URL+"/authn/token/nonce",
		map[string]any{"account": "acct-1", "authenticationMethod": "token-client-registration"}, nil)
	first := cidValue()
	if first == "" {
		t.Fatal("Expected a cid cookie after the first registration")
	}

	// a second user registering on the same device keeps the same client id
	doJSON(t, client, http.MethodPost, srv.URL+"/authn/token/nonce",
		map[string]any{"account": "acct-2", "authenticationMethod": "token-client-registration"}, nil)
	if second := cidValue(); second != first {
		t.Errorf("Expected the client id to be reused, got %q then %q", first, second)
	}
}

func TestClientRegistrationStatusWithoutCookie(t *testing.T) {
	auth, store := newTestAuth(t, nil)
	store.AddAccount("acct-1", "user@example.com")
	srv, client := newTestServer(t, auth)

	resp, data := doJSON(t, client, http.MethodGet,
		srv.URL+"/authn/token/client/registration?email=user@example.com", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", resp.StatusCode, data)
	}
	var body map[string]bool
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body["registered"] {
		t.Error("Expected registered to be false without a cid cookie")
	}
}

func TestInvalidRequestBody(t *testing.T) {
	auth, store := newTestAuth(t, nil)
	store.AddAccount("acct-1", "user@example.com")
	srv, _ := newTestServer(t, auth)

	resp, err := http.Post(srv.URL+"/authn/token/authenticate", "application/json",
		strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400 for invalid JSON, got %d", resp.StatusCode)
	}
}
