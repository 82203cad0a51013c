// Package middleware provides the HTTP middleware for the two API surfaces:
// operator JWT auth on the admin routes and service key auth on the routing
// routes.
package middleware

import (
	"strings"

	"cascade/internal/models"
	"cascade/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// OperatorSource is the operator lookup surface the JWT middleware consumes.
type OperatorSource interface {
	GetByID(id uint) (*models.Operator, error)
}

// KeyVerifier is the service key check surface the key middleware consumes.
type KeyVerifier interface {
	VerifyServiceKey(key string) (*models.ServiceKey, error)
}

// AuthMiddleware validates operator JWTs on the admin surface.
type AuthMiddleware struct {
	operators OperatorSource
	logger    zerolog.Logger
}

func NewAuthMiddleware(operators OperatorSource, logger zerolog.Logger) *AuthMiddleware {
	if operators == nil {
		panic("operator source is required")
	}
	return &AuthMiddleware{operators: operators, logger: logger}
}

// Handler validates the bearer token and stores the claims in the context.
// Beyond signature and expiry it checks that the operator still exists, is
// active, and has not had the token version bumped since issuance.
func (m *AuthMiddleware) Handler(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization format"})
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")

	_, claims, err := utils.ParseToken(tokenString)
	if err != nil {
		m.logger.Debug().Err(err).Msg("token rejected")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
	}

	operator, err := m.operators.GetByID(claims.OperatorID)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
	}
	if operator.Status != models.OperatorStatusActive {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "account suspended"})
	}
	if operator.TokenVersion != claims.TokenVersion {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "session expired"})
	}

	c.Locals("claims", claims)
	c.Locals("operatorID", claims.OperatorID)

	return c.Next()
}

// AdminOnly allows only operators with the admin role. The JWT middleware
// must run first.
func AdminOnly(c *fiber.Ctx) error {
	claims, ok := c.Locals("claims").(*models.OperatorClaims)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	if claims.Role != models.RoleAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "insufficient permissions"})
	}

	return c.Next()
}

// RequirePermission returns a middleware that checks for a specific
// permission. Admins pass every check.
func RequirePermission(permission string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := c.Locals("claims").(*models.OperatorClaims)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}

		if claims.Role == models.RoleAdmin {
			return c.Next()
		}
		if claims.HasPermission(permission) {
			return c.Next()
		}

		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "insufficient permissions"})
	}
}

// ServiceKeyMiddleware authenticates machine callers on the routing surface.
type ServiceKeyMiddleware struct {
	verifier KeyVerifier
	logger   zerolog.Logger
}

func NewServiceKeyMiddleware(verifier KeyVerifier, logger zerolog.Logger) *ServiceKeyMiddleware {
	if verifier == nil {
		panic("key verifier is required")
	}
	return &ServiceKeyMiddleware{verifier: verifier, logger: logger}
}

// Handler checks the X-API-Key header and stores the resolved key and its
// merchant in the context.
func (m *ServiceKeyMiddleware) Handler(c *fiber.Ctx) error {
	key := c.Get("X-API-Key")
	if key == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing api key"})
	}

	record, err := m.verifier.VerifyServiceKey(key)
	if err != nil {
		m.logger.Debug().Err(err).Msg("service key rejected")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid api key"})
	}

	c.Locals("serviceKey", record)
	c.Locals("merchantID", record.MerchantID)

	return c.Next()
}
