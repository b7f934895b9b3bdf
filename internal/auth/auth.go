// Package auth issues and verifies the HS256 bearer tokens that guard staff
// and admin routes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/supperclub/clubdesk/internal/server"
)

// Roles.
const (
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the clubdesk token claims.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims grant role. Admins hold every role.
func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role) || slices.Contains(c.Roles, RoleAdmin)
}

// Manager signs and verifies tokens with a shared secret.
type Manager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewManager creates a token manager.
func NewManager(secret, issuer string, ttl time.Duration) *Manager {
	return &Manager{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue returns a signed token for subject with the given roles.
func (m *Manager) Issue(subject string, roles ...string) (string, error) {
	if subject == "" {
		return "", errors.New("token subject is required")
	}
	now := m.now()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses token and checks its signature, issuer and expiry.
func (m *Manager) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

type claimsKey struct{}

// FromContext returns the verified claims stored by Require.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// Subject returns the authenticated subject, or "" when unauthenticated.
func Subject(ctx context.Context) string {
	if c, ok := FromContext(ctx); ok {
		return c.Subject
	}
	return ""
}

// Require returns middleware that rejects requests without a valid bearer
// token carrying role.
func (m *Manager) Require(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearer(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="clubdesk"`)
				server.TypedError(w, http.StatusUnauthorized, "authentication_error", "missing bearer token")
				return
			}
			claims, err := m.Verify(raw)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="clubdesk", error="invalid_token"`)
				server.TypedError(w, http.StatusUnauthorized, "authentication_error", "invalid or expired token")
				return
			}
			if !claims.HasRole(role) {
				server.TypedError(w, http.StatusForbidden, "permission_error", "requires "+role+" role")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

// Optional attaches the claims of a valid bearer token to the request
// context and lets every request through.
func (m *Manager) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw, ok := bearer(r); ok {
			if claims, err := m.Verify(raw); err == nil {
				r = r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// HasRole reports whether the request context carries claims granting role.
func HasRole(ctx context.Context, role string) bool {
	c, ok := FromContext(ctx)
	return ok && c.HasRole(role)
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}
