package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const contextKeyClaims contextKey = "claims"

// Role represents an authorized caller persona.
type Role string

// Supported roles. Store frontends call as customer, order/review/checkout
// systems call as service, back-office tooling calls as admin.
const (
	RoleCustomer Role = "customer"
	RoleService  Role = "service"
	RoleAdmin    Role = "admin"
)

// Claims carries the authenticated caller identity.
type Claims struct {
	Subject string
	Role    Role
}

var errNoClaims = errors.New("server: no claims in context")

// FromContext extracts the authenticated claims stored by Authenticate.
func FromContext(ctx context.Context) (Claims, error) {
	claims, ok := ctx.Value(contextKeyClaims).(Claims)
	if !ok {
		return Claims{}, errNoClaims
	}
	return claims, nil
}

// Authenticate verifies the HS256 bearer token and stores its claims on the
// request context.
func Authenticate(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			raw := strings.TrimPrefix(header, "Bearer ")

			token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.New("unexpected signing method")
				}
				return secret, nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			mapClaims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "invalid claims", http.StatusUnauthorized)
				return
			}
			subject, _ := mapClaims.GetSubject()
			role, _ := mapClaims["role"].(string)
			if subject == "" || role == "" {
				http.Error(w, "invalid claims", http.StatusUnauthorized)
				return
			}

			claims := Claims{Subject: subject, Role: Role(role)}
			ctx := context.WithValue(r.Context(), contextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects callers whose role is not in the allowed set.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	allowed := make(map[Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := FromContext(r.Context())
			if err != nil {
				http.Error(w, "missing identity", http.StatusUnauthorized)
				return
			}
			if _, ok := allowed[claims.Role]; !ok {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IssueToken mints a signed token for the given subject and role. Used by
// operational tooling and tests.
func IssueToken(secret []byte, subject string, role Role) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"role": string(role),
	})
	return token.SignedString(secret)
}
