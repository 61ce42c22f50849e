// Package auth resolves the caller identity attached to support requests.
// Resolution never fails: anything that is not a valid token is anonymous.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zhouzirui/z-tavern/support/internal/model/chat"
)

var ErrInvalidToken = errors.New("invalid token")

// Resolver turns an HS256 bearer token into an Identity.
type Resolver struct {
	secret []byte
}

// NewResolver creates a resolver. An empty secret resolves every caller as anonymous.
func NewResolver(secret string) *Resolver {
	return &Resolver{secret: []byte(secret)}
}

// Resolve reads the Authorization header of r.
func (res *Resolver) Resolve(r *http.Request) chat.Identity {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		// browsers cannot set headers on websocket upgrades
		token = strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	identity, err := res.Verify(token)
	if err != nil {
		return chat.Identity{}
	}
	return identity
}

// Verify validates tokenString and extracts the "sub" and "name" claims.
func (res *Resolver) Verify(tokenString string) (chat.Identity, error) {
	if len(res.secret) == 0 || tokenString == "" {
		return chat.Identity{}, ErrInvalidToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return res.secret, nil
	})
	if err != nil || !token.Valid {
		return chat.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return chat.Identity{}, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return chat.Identity{}, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	name, _ := claims["name"].(string)

	return chat.Identity{AccountID: sub, DisplayName: strings.TrimSpace(name)}, nil
}

// Issue signs a token for identity. Used by tooling and tests.
func (res *Resolver) Issue(identity chat.Identity, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": identity.AccountID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}
	if identity.DisplayName != "" {
		claims["name"] = identity.DisplayName
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(res.secret)
}

type contextKey struct{}

// Middleware stores the resolved identity in the request context.
func (res *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithIdentity(r.Context(), res.Resolve(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithIdentity returns a context carrying identity.
func WithIdentity(ctx context.Context, identity chat.Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

// FromContext returns the identity stored by Middleware, or anonymous.
func FromContext(ctx context.Context) chat.Identity {
	identity, _ := ctx.Value(contextKey{}).(chat.Identity)
	return identity
}

func bearerToken(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
