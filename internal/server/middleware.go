package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"relgate/internal/dsl"
	"relgate/internal/engine"
)

// Claims are the JWT claims a caller presents: subject is the user id,
// tenant and roles feed the Principal.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

// GenerateToken signs an HS256 token for a principal. Used by tests and
// provisioning tooling; the gateway itself only verifies.
func GenerateToken(userID, tenantID string, roles []string, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TenantID: tenantID,
		Roles:    roles,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a JWT and returns its claims.
func ParseToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// AuthMiddleware authenticates the caller and attaches a Principal.
// Two schemes: a Bearer JWT, or a static API key checked against the
// configured bcrypt hashes (service callers; tenant comes from the
// X-Tenant-ID header).
func AuthMiddleware(jwtSecret string, apiKeyHashes []string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if key := c.Get("X-API-Key"); key != "" {
			for _, hash := range apiKeyHashes {
				if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil {
					c.Locals("principal", &dsl.Principal{
						TenantID: c.Get("X-Tenant-ID"),
						UserID:   "api-key",
						Roles:    []string{"service"},
					})
					return c.Next()
				}
			}
			return unauthorized(c, "Invalid API key")
		}

		header := c.Get("Authorization")
		if header == "" {
			return unauthorized(c, "Missing auth token")
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return unauthorized(c, "Invalid auth header format")
		}

		claims, err := ParseToken(parts[1], jwtSecret)
		if err != nil {
			return unauthorized(c, "Invalid or expired token")
		}

		c.Locals("principal", &dsl.Principal{
			TenantID: claims.TenantID,
			UserID:   claims.Subject,
			Roles:    claims.Roles,
		})
		return c.Next()
	}
}

// GetPrincipal extracts the Principal set by the auth middleware.
func GetPrincipal(c *fiber.Ctx) *dsl.Principal {
	p, _ := c.Locals("principal").(*dsl.Principal)
	return p
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(401).JSON(engine.ErrorResponse{Error: &engine.PolicyError{
		Code:    "UNAUTHORIZED",
		Status:  401,
		Message: msg,
	}})
}
