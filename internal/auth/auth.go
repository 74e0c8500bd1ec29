// Package auth turns a bearer JWT into a model.Actor. Tokens are verified
// either with a shared HS256 secret or against a JWKS endpoint.
package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"github.com/BuzzLyutic/kanban-board-api/internal/model"
	"github.com/BuzzLyutic/kanban-board-api/pkg/respond"
)

var (
	ErrMissingAuthorization = errors.New("missing authorization header")
	ErrBadAuthorization     = errors.New("bad auth header")
)

// Auth validates incoming JWT tokens.
type Auth struct {
	parser   *jwt.Parser
	keyFunc  jwt.Keyfunc
	audience string
	issuer   string
	elevated []string
}

type Option func(*Auth)

func WithAudience(aud string) Option { return func(a *Auth) { a.audience = aud } }

func WithIssuer(iss string) Option { return func(a *Auth) { a.issuer = iss } }

// WithElevatedRoles lists the role claim values that grant elevated
// privileges. Defaults to "admin".
func WithElevatedRoles(roles ...string) Option {
	return func(a *Auth) { a.elevated = roles }
}

func NewHS256(secret []byte, opts ...Option) *Auth {
	a := newAuth([]string{"HS256"}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	}, opts)
	return a
}

func NewJWKS(jwks *keyfunc.JWKS, opts ...Option) *Auth {
	return newAuth([]string{"RS256", "ES256"}, jwks.Keyfunc, opts)
}

// FetchJWKS loads a remote key set and keeps it refreshed in the background.
func FetchJWKS(url string, refresh time.Duration) (*keyfunc.JWKS, error) {
	return keyfunc.Get(url, keyfunc.Options{
		RefreshInterval:   refresh,
		RefreshUnknownKID: true,
	})
}

func newAuth(methods []string, kf jwt.Keyfunc, opts []Option) *Auth {
	a := &Auth{
		parser:   jwt.NewParser(jwt.WithValidMethods(methods)),
		keyFunc:  kf,
		elevated: []string{"admin"},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// ActorFromHeader extracts the caller from an Authorization header value.
func (a *Auth) ActorFromHeader(h string) (model.Actor, error) {
	if h == "" {
		return model.Actor{}, ErrMissingAuthorization
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.Count(token, ".") != 2 {
		return model.Actor{}, ErrBadAuthorization
	}
	return a.ActorFromToken(token)
}

func (a *Auth) ActorFromToken(token string) (model.Actor, error) {
	parsed, err := a.parser.Parse(token, a.keyFunc)
	if err != nil {
		return model.Actor{}, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return model.Actor{}, errors.New("invalid claims")
	}

	now := time.Now().Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return model.Actor{}, errors.New("token expired")
	}
	if a.audience != "" && !claims.VerifyAudience(a.audience, true) {
		return model.Actor{}, errors.New("invalid audience")
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return model.Actor{}, errors.New("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return model.Actor{}, errors.New("missing sub")
	}
	return model.Actor{UserID: sub, Elevated: a.isElevated(claims)}, nil
}

// isElevated accepts either a single "role" claim or a "roles" array.
func (a *Auth) isElevated(claims jwt.MapClaims) bool {
	if role, ok := claims["role"].(string); ok && slices.Contains(a.elevated, role) {
		return true
	}
	roles, _ := claims["roles"].([]any)
	for _, r := range roles {
		if s, ok := r.(string); ok && slices.Contains(a.elevated, s) {
			return true
		}
	}
	return false
}

// Middleware rejects requests without a valid token and stores the actor in
// the request context.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.ActorFromHeader(r.Header.Get("Authorization"))
		if err != nil {
			respond.Error(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

type ctxKey struct{}

func WithActor(ctx context.Context, actor model.Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, actor)
}

func ActorFrom(ctx context.Context) (model.Actor, bool) {
	actor, ok := ctx.Value(ctxKey{}).(model.Actor)
	return actor, ok
}
