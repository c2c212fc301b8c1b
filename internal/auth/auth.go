// Package auth issues and verifies the bearer tokens shared by the quiz API
// and the attempt gateway.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"proctor-quiz-service/internal/domain"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type Service struct {
	hmac   []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewService(secret, issuer string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &Service{hmac: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

type Claims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the verified caller.
type Identity struct {
	UserID string
	Name   string
	Role   string
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

func (s *Service) Issue(userID, name, role string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("issue token: %w", domain.ErrMissingParameters)
	}
	if role == "" {
		role = RoleUser
	}
	now := s.now()
	claims := &Claims{
		Name: name,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.hmac)
}

// Verify parses a token and returns the caller. Any failure is ErrUnauthorized.
func (s *Service) Verify(tokenStr string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.hmac, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	c, ok := token.Claims.(*Claims)
	if !ok || c.Subject == "" {
		return Identity{}, domain.ErrUnauthorized
	}
	return Identity{UserID: c.Subject, Name: c.Name, Role: c.Role}, nil
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	return tok, tok != ""
}

// ErrorWriter renders an auth failure; the transport supplies its JSON writer.
type ErrorWriter func(w http.ResponseWriter, status int, message string)

// Middleware rejects requests without a valid bearer token and stores the
// caller in the request context.
func (s *Service) Middleware(writeErr ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, ok := BearerToken(r)
			if !ok {
				writeErr(w, http.StatusUnauthorized, "Unauthorized: No token provided")
				return
			}
			id, err := s.Verify(tok)
			if err != nil {
				writeErr(w, http.StatusUnauthorized, "Unauthorized: Invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireAdmin must run after Middleware.
func RequireAdmin(writeErr ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok || !id.IsAdmin() {
				writeErr(w, http.StatusForbidden, "Forbidden: Admins only")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IsUnauthorized reports whether err came from token verification.
func IsUnauthorized(err error) bool {
	return errors.Is(err, domain.ErrUnauthorized)
}
