package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ClientClaims identify an API client.
type ClientClaims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// TokenAuth mints and verifies HS256 bearer tokens.
type TokenAuth struct {
	secret []byte
	now    func() time.Time
}

func NewTokenAuth(secret string) *TokenAuth {
	return &TokenAuth{secret: []byte(secret), now: time.Now}
}

// Enabled reports whether a secret is configured.
func (a *TokenAuth) Enabled() bool { return a != nil && len(a.secret) > 0 }

func (a *TokenAuth) Mint(subject string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", errors.New("jwt secret not configured")
	}
	now := a.now()
	claims := ClientClaims{
		Scope: "ideas",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   subject,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *TokenAuth) Parse(tok string) (*ClientClaims, error) {
	claims := &ClientClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tkn.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

type claimsKey struct{}

func ClaimsFrom(ctx context.Context) *ClientClaims {
	c, _ := ctx.Value(claimsKey{}).(*ClientClaims)
	return c
}

// RequireToken rejects requests without a valid bearer token. With no
// secret configured every request passes.
func RequireToken(a *TokenAuth) Middleware {
	return func(next http.Handler) http.Handler {
		if !a.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hdr := r.Header.Get("Authorization")
			if len(hdr) < 7 || !strings.EqualFold(hdr[:7], "bearer ") {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims, err := a.Parse(strings.TrimSpace(hdr[7:]))
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}
