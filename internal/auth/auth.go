// Package auth resolves the acting principal. It does not issue sessions or
// manage users; bearer tokens are minted elsewhere and only verified here.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Principal struct {
	UserID string `json:"uid"`
	Email  string `json:"email,omitempty"`
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal attached to ctx, or nil.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

type claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for p. Used by the development CLI and tests.
func IssueToken(p Principal, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Email: p.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

// ParseToken validates an HS256 token and returns its principal.
func ParseToken(tokenStr, secret string) (*Principal, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenStr, &c, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("token has no subject: %w", jwt.ErrTokenMalformed)
	}
	return &Principal{UserID: c.Subject, Email: c.Email}, nil
}

func ExtractToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.Split(h, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

var ErrUnauthenticated = errors.New("unauthenticated")

// Middleware attaches the bearer token's principal to the request context.
// Requests without a token get fallback (which may be nil); an invalid token
// is rejected with 401.
func Middleware(secret string, fallback *Principal, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := fallback
			if tok := ExtractToken(r); tok != "" {
				if secret == "" {
					http.Error(w, "bearer tokens not accepted", http.StatusUnauthorized)
					return
				}
				parsed, err := ParseToken(tok, secret)
				if err != nil {
					logger.Warn("rejected bearer token", "path", r.URL.Path, "error", err)
					http.Error(w, "invalid token", http.StatusUnauthorized)
					return
				}
				p = parsed
			}
			if p != nil {
				r = r.WithContext(WithPrincipal(r.Context(), p))
			}
			next.ServeHTTP(w, r)
		})
	}
}
