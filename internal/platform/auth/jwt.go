// Package auth guards the de-identification API. Two credentials are
// accepted: HMAC-signed bearer tokens minted by this service, and managed
// API keys for programmatic callers. Development mode bypasses both.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var (
	// ErrMissingCredentials indicates no bearer token or API key was supplied.
	ErrMissingCredentials = errors.New("missing credentials")

	// ErrInvalidToken indicates the bearer token failed verification.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the JWT claims this service mints and verifies.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies HMAC-signed bearer tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer builds an issuer over the shared secret. ttl <= 0
// defaults to 12 hours.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

// Mint issues a token for the subject with the given role.
func (ti *TokenIssuer) Mint(subject, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.secret)
	if err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a bearer token string.
func (ti *TokenIssuer) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return ti.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Middleware authenticates requests. A valid bearer token sets "user_id"
// and "user_role" on the context; a valid API key (X-API-Key header) sets
// them from the key's name and role. keys may be nil to accept tokens only.
func Middleware(issuer *TokenIssuer, keys *APIKeyManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if raw, ok := bearerToken(c.Request()); ok {
				claims, err := issuer.Verify(raw)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid bearer token")
				}
				c.Set("user_id", claims.Subject)
				c.Set("user_role", claims.Role)
				return next(c)
			}

			if keys != nil {
				if rawKey := c.Request().Header.Get(APIKeyHeader); rawKey != "" {
					key, err := keys.Validate(rawKey)
					if err != nil {
						return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
					}
					c.Set("user_id", key.Name)
					c.Set("user_role", key.Role)
					return next(c)
				}
			}

			return echo.NewHTTPError(http.StatusUnauthorized, ErrMissingCredentials.Error())
		}
	}
}

// DevMiddleware grants every request admin access. Development only.
func DevMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("user_id", "dev")
			c.Set("user_role", "admin")
			return next(c)
		}
	}
}

// RequireRole returns middleware allowing only the listed roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, _ := c.Get("user_role").(string)
			if !allowed[role] {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient role")
			}
			return next(c)
		}
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
