package tokenauth

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
)

// Routes holds the HTTP paths the binding registers. The type routes hang
// off BasePath; the rest are absolute.
type Routes struct {
	BasePath     string
	Authenticate string
	Login        string
	Requirements string
	Registration string
	Recovery     string
}

// CookieConfig is the client-id cookie policy
type CookieConfig struct {
	Name     string
	MaxAge   time.Duration
	HTTPOnly bool
	Secure   bool
}

// TokenAuth is the HTTP binding for token-based authentication. It owns
// request parsing, the client-id cookie, the session authentication
// accumulator, and translation of collaborator results into HTTP responses.
// All cryptography and persistence lives behind the injected stores.
type TokenAuth struct {
	router     *mux.Router
	Session    *scs.SessionManager
	Middleware Middleware

	// Must be passed in
	Tokens   TokenService
	Clients  ClientStore
	Accounts AccountStore

	// Login strategies by name; defaults are wired from Tokens/Accounts
	Strategies map[string]Strategy

	// Optional name that can be used as a prefix for all required vars
	AppName string

	Routes         Routes
	ClientIDCookie CookieConfig

	// Name of the session variable where the auth token is stored
	AuthTokenSessionVar string

	// All the domains where the auth token cookies will be set on a login success
	CookieDomains []string

	// JWT related fields
	JwtIssuer    string
	JWTSecretKey string

	// How long is a session cookie valid for.  Defaults to 1 day
	SessionTimeoutInSeconds int
}

func New(appName string) *TokenAuth {
	return (&TokenAuth{AppName: appName}).EnsureDefaults()
}

func (a *TokenAuth) EnsureDefaults() *TokenAuth {
	// ensure some defaults
	if a.AppName == "" {
		a.AppName = "TokenAuth"
	}
	if a.SessionTimeoutInSeconds <= 0 {
		a.SessionTimeoutInSeconds = 86400
	}
	if a.JwtIssuer == "" {
		a.JwtIssuer = fmt.Sprintf("%s-Issuer", a.AppName)
	}
	if a.AuthTokenSessionVar == "" {
		a.AuthTokenSessionVar = fmt.Sprintf("%sAuthToken", a.AppName)
	}
	if a.JWTSecretKey == "" {
		a.JWTSecretKey = strings.TrimSpace(os.Getenv("TOKENAUTH_JWT_SECRET_KEY"))
		if a.JWTSecretKey == "" {
			a.JWTSecretKey = "MyTestJWTSecretKey123456"
		}
	}
	if a.Session == nil {
		a.Session = scs.New()
		a.Session.Lifetime = time.Duration(a.SessionTimeoutInSeconds) * time.Second
	}
	if a.Routes.BasePath == "" {
		a.Routes.BasePath = "/authn/token"
	}
	base := strings.TrimSuffix(a.Routes.BasePath, "/")
	if a.Routes.Authenticate == "" {
		a.Routes.Authenticate = base + "/authenticate"
	}
	if a.Routes.Login == "" {
		a.Routes.Login = base + "/login"
	}
	if a.Routes.Requirements == "" {
		a.Routes.Requirements = base + "/requirements"
	}
	if a.Routes.Registration == "" {
		a.Routes.Registration = base + "/client/registration"
	}
	if a.Routes.Recovery == "" {
		a.Routes.Recovery = base + "/recovery"
	}
	if a.ClientIDCookie.Name == "" {
		a.ClientIDCookie = CookieConfig{
			Name:     "cid",
			MaxAge:   30 * 24 * time.Hour,
			HTTPOnly: true,
			Secure:   true,
		}
	}
	if a.Middleware.AuthTokenCookieName == "" {
		a.Middleware.AuthTokenCookieName = a.AuthTokenSessionVar
	}
	if a.Middleware.VerifyToken == nil {
		a.Middleware.VerifyToken = a.verifyJWT
	}
	if a.Middleware.SessionGetter == nil {
		a.Middleware.SessionGetter = func(r *http.Request, param string) any {
			return a.Session.GetString(r.Context(), param)
		}
	}
	if a.Strategies == nil {
		a.Strategies = map[string]Strategy{}
	}
	if _, ok := a.Strategies[StrategyToken]; !ok && a.Tokens != nil {
		a.Strategies[StrategyToken] = &TokenStrategy{Tokens: a.Tokens}
	}
	if _, ok := a.Strategies[StrategyMultifactor]; !ok && a.Accounts != nil {
		a.Strategies[StrategyMultifactor] = &MultifactorStrategy{Accounts: a.Accounts}
	}
	return a
}

// Handler returns the binding's HTTP handler, wrapped by the session
// middleware so every route sees loaded session data.
func (a *TokenAuth) Handler() http.Handler {
	a.EnsureDefaults()
	return a.Session.LoadAndSave(a.setupRoutes())
}

func (a *TokenAuth) setupRoutes() *mux.Router {
	if a.router != nil {
		return a.router
	}
	r := mux.NewRouter()

	// Exact routes are registered before the {type} routes so that
	// "authenticate", "login", etc are never captured as token types.
	r.HandleFunc(a.Routes.Authenticate, a.handleAuthenticate).Methods(http.MethodPost)
	r.HandleFunc(a.Routes.Login, a.handleLogin).Methods(http.MethodPost)
	r.Handle(a.Routes.Requirements,
		a.Middleware.EnsureAuthenticated(http.HandlerFunc(a.handlePostRequirements))).Methods(http.MethodPost)
	r.Handle(a.Routes.Requirements,
		a.Middleware.EnsureAuthenticated(http.HandlerFunc(a.handleGetRequirements))).Methods(http.MethodGet)
	r.HandleFunc(a.Routes.Registration, a.handleGetRegistration).Methods(http.MethodGet)
	r.Handle(a.Routes.Recovery,
		a.Middleware.EnsureAuthenticated(http.HandlerFunc(a.handlePostRecovery))).Methods(http.MethodPost)

	typeRoute := strings.TrimSuffix(a.Routes.BasePath, "/") + "/{type}"
	r.Handle(typeRoute,
		a.Middleware.OptionallyAuthenticated(http.HandlerFunc(a.handlePostToken))).Methods(http.MethodPost)
	r.HandleFunc(typeRoute+"/salt", a.handleGetSalt).Methods(http.MethodGet)
	r.Handle(typeRoute,
		a.Middleware.EnsureAuthenticated(http.HandlerFunc(a.handleDeleteToken))).Methods(http.MethodDelete)

	a.router = r
	return r
}

func (a *TokenAuth) verifyJWT(tokenString string) (loggedInAccountID string, t any, err error) {
	// Parse the token with the secret key
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return []byte(a.JWTSecretKey), nil
	})
	if err != nil {
		return "", nil, err
	}
	if !token.Valid {
		return "", nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || claims == nil {
		return "", nil, fmt.Errorf("claims is not a map")
	}
	sub, err := claims.GetSubject()
	if sub == "" {
		return "", nil, fmt.Errorf("subject not found")
	} else if err != nil {
		return "", nil, err
	}
	return sub, token, nil
}

// Sets the auth token and logged in account ID on the cookie domains we care
// about after a successful login.
func (a *TokenAuth) setLoggedInAccount(accountID string, w http.ResponseWriter, r *http.Request) string {
	a.EnsureDefaults()
	domains := a.CookieDomains
	if slices.Index(a.CookieDomains, "") < 0 { // default domain
		domains = append(domains, "")
	}

	a.Session.Put(r.Context(), a.Middleware.accountParamName(), accountID)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": accountID,
		"iss": a.JwtIssuer,
		"exp": time.Now().Add(time.Second * time.Duration(a.SessionTimeoutInSeconds)).Unix(),
		"iat": time.Now().Unix(),
	})
	tokenString, err := token.SignedString([]byte(a.JWTSecretKey))
	if err != nil {
		slog.Warn("error signing token", "err", err)
		return ""
	}
	a.Session.Put(r.Context(), a.AuthTokenSessionVar, tokenString)

	for _, cookieDomain := range domains {
		http.SetCookie(w, &http.Cookie{
			Name:     a.AuthTokenSessionVar,
			Value:    tokenString,
			Domain:   cookieDomain,
			Path:     "/",
			HttpOnly: true,
			Expires:  time.Now().Add(time.Second * time.Duration(a.SessionTimeoutInSeconds)),
			MaxAge:   a.SessionTimeoutInSeconds,
		})
	}
	return tokenString
}
