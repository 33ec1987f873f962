package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/fx"

	"github.com/smallbiznis/companion/internal/cache"
	"github.com/smallbiznis/companion/internal/clock"
	"github.com/smallbiznis/companion/internal/config"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrUserNotFound = errors.New("user_not_found")
)

const maxPrincipalCacheTTL = 5 * time.Minute

// Principal is the authenticated caller behind a bearer token.
type Principal struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
}

type tokenClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type AuthenticatorParams struct {
	fx.In

	Config config.Config
	Clock  clock.Clock
}

// Authenticator verifies HS256 access tokens whose subject is the user id.
type Authenticator struct {
	secret   []byte
	issuer   string
	cacheTTL time.Duration
	clock    clock.Clock
	cache    cache.Cache[string, Principal]
}

func NewAuthenticator(p AuthenticatorParams) *Authenticator {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	// A negative TTL turns the principal cache off.
	ttl := p.Config.Auth.TokenCacheTTL
	var principals cache.Cache[string, Principal] = cache.NewTTLCacheWithClock[string, Principal](clk.Now)
	if ttl < 0 {
		principals = cache.NoopCache[string, Principal]{}
	}
	if ttl <= 0 || ttl > maxPrincipalCacheTTL {
		ttl = maxPrincipalCacheTTL
	}
	return &Authenticator{
		secret:   []byte(p.Config.Auth.JWTSecret),
		issuer:   strings.TrimSpace(p.Config.Auth.JWTIssuer),
		cacheTTL: ttl,
		clock:    clk,
		cache:    principals,
	}
}

// Authenticate accepts either a raw token or an "Authorization" header value.
func (a *Authenticator) Authenticate(ctx context.Context, bearer string) (Principal, error) {
	token := ExtractBearer(bearer)
	if token == "" || len(a.secret) == 0 {
		return Principal{}, ErrUnauthorized
	}
	if principal, ok := a.cache.Get(token); ok {
		return principal, nil
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.clock.Now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Principal{}, ErrUnauthorized
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ExpiresAt == nil {
		return Principal{}, ErrUnauthorized
	}

	principal := Principal{UserID: claims.Subject, Email: strings.TrimSpace(claims.Email), ExpiresAt: claims.ExpiresAt.Time}
	ttl := principal.ExpiresAt.Sub(a.clock.Now())
	if ttl > a.cacheTTL {
		ttl = a.cacheTTL
	}
	if ttl > 0 {
		a.cache.Set(token, principal, ttl)
	}
	return principal, nil
}

// Issue signs a token for userID. Used by the CLI and tests; production
// tokens come from the identity provider sharing the secret.
func (a *Authenticator) Issue(userID string, ttl time.Duration) (string, error) {
	return a.IssueWithEmail(userID, "", ttl)
}

func (a *Authenticator) IssueWithEmail(userID, email string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("missing_jwt_secret")
	}
	now := a.clock.Now()
	claims := tokenClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func ExtractBearer(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	parts := strings.Fields(value)
	switch {
	case len(parts) == 2 && strings.EqualFold(parts[0], "Bearer"):
		return parts[1]
	case len(parts) == 1 && !strings.EqualFold(parts[0], "Bearer"):
		return parts[0]
	default:
		return ""
	}
}
