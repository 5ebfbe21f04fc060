package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/payout-engine/payout"
)

// Claims identify the actor behind a request.
type Claims struct {
	Name string      `json:"name"`
	Role payout.Role `json:"role"`
	jwt.RegisteredClaims
}

// Auth verifies HS256 bearer tokens.
type Auth struct {
	Secret []byte
	Now    func() time.Time // nil means time.Now
}

type actorKey struct{}

// IssueToken signs a token for actor valid for ttl.
func (a *Auth) IssueToken(actor payout.Actor, ttl time.Duration) (string, error) {
	now := a.now()
	claims := &Claims{
		Name: actor.Name,
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
}

// Verify parses a token and returns the actor it names.
func (a *Auth) Verify(tokenStr string) (payout.Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
		return a.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return payout.Actor{}, fmt.Errorf("invalid or expired token: %w", err)
	}
	if claims.Subject == "" {
		return payout.Actor{}, errors.New("token has no subject")
	}
	switch claims.Role {
	case payout.RoleAdmin, payout.RoleManager, payout.RoleViewer:
	default:
		return payout.Actor{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return payout.Actor{ID: claims.Subject, Name: name, Role: claims.Role}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// actor in the request context.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			writeUnauthorized(w, "missing bearer token")
			return
		}
		actor, err := a.Verify(strings.TrimSpace(raw))
		if err != nil {
			writeUnauthorized(w, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

func (a *Auth) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func WithActor(ctx context.Context, actor payout.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the authenticated actor. Routes behind Middleware
// always have one.
func ActorFrom(ctx context.Context) (payout.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(payout.Actor)
	return actor, ok
}
