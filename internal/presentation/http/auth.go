package http

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken indicates no token was provided.
	ErrMissingToken = errors.New("missing authorization token")
	// ErrInvalidToken indicates the token is invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken indicates the token has expired.
	ErrExpiredToken = errors.New("token has expired")
)

// Admin scopes.
const (
	ScopeWorkersWrite    = "workers:write"
	ScopeRateLimitsWrite = "ratelimits:write"
)

// Claims are the claims of an admin token. Scope is space separated.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// HasScope reports whether the token grants scope.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(strings.Fields(c.Scope), scope)
}

// JWTValidator validates HMAC signed admin tokens.
type JWTValidator struct {
	secret   []byte
	issuer   string
	audience string
}

// NewJWTValidator creates a validator. Empty issuer or audience skip that check.
func NewJWTValidator(secret, issuer, audience string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret), issuer: issuer, audience: audience}
}

// Validate parses a bearer token and returns its claims.
func (v *JWTValidator) Validate(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateToken signs a token for subject with the given scopes.
func (v *JWTValidator) GenerateToken(subject string, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scope: strings.Join(scopes, " "),
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

type claimsKey struct{}

// ClaimsFromContext returns the claims of an authenticated request.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok
}

// AuthMiddleware authenticates admin requests.
type AuthMiddleware struct {
	validator *JWTValidator
}

// NewAuthMiddleware creates the middleware.
func NewAuthMiddleware(validator *JWTValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// Authenticate rejects requests without a valid bearer token.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.validator.Validate(r.Header.Get("Authorization"))
		if err != nil {
			switch {
			case errors.Is(err, ErrMissingToken):
				WriteUnauthorized(w, r, "missing token")
			case errors.Is(err, ErrExpiredToken):
				WriteUnauthorized(w, r, "token expired")
			default:
				WriteUnauthorized(w, r, "invalid token")
			}
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

// RequireScope rejects authenticated requests lacking scope.
func (m *AuthMiddleware) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				WriteUnauthorized(w, r, "unauthorized")
				return
			}
			if !claims.HasScope(scope) {
				WriteForbidden(w, r, "missing scope "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
