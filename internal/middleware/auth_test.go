package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"cascade/internal/models"
	"cascade/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOperators struct {
	op  *models.Operator
	err error
}

func (f *fakeOperators) GetByID(uint) (*models.Operator, error) { return f.op, f.err }

type fakeVerifier struct {
	key *models.ServiceKey
	err error
}

func (f *fakeVerifier) VerifyServiceKey(string) (*models.ServiceKey, error) { return f.key, f.err }

func activeOperator(version int) *models.Operator {
	op := &models.Operator{
		Email:        "ops@example.com",
		Role:         models.RoleOperator,
		Status:       models.OperatorStatusActive,
		TokenVersion: version,
	}
	op.ID = 3
	return op
}

func bearerToken(t *testing.T, op *models.Operator) string {
	t.Helper()
	access, _, err := utils.GenerateTokens(&models.OperatorClaims{
		OperatorID:   op.ID,
		Email:        op.Email,
		Role:         op.Role,
		TokenVersion: op.TokenVersion,
		Permissions:  models.GetDefaultPermissions(op.Role),
	})
	require.NoError(t, err)
	return "Bearer " + access
}

func TestAuthMiddleware(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	operators := &fakeOperators{op: activeOperator(1)}
	app := fiber.New()
	app.Use(NewAuthMiddleware(operators, zerolog.Nop()).Handler)
	app.Get("/ok", func(c *fiber.Ctx) error {
		claims, err := utils.GetOperatorClaims(c)
		require.NoError(t, err)
		return c.JSON(fiber.Map{"operator_id": claims.OperatorID})
	})

	t.Run("missing header", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ok", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ok", nil)
		req.Header.Set("Authorization", bearerToken(t, operators.op))
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("stale token version", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ok", nil)
		req.Header.Set("Authorization", bearerToken(t, activeOperator(1)))
		operators.op = activeOperator(2)
		defer func() { operators.op = activeOperator(1) }()

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("suspended operator", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ok", nil)
		req.Header.Set("Authorization", bearerToken(t, operators.op))
		operators.op.Status = models.OperatorStatusSuspended
		defer func() { operators.op.Status = models.OperatorStatusActive }()

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestServiceKeyMiddleware(t *testing.T) {
	verifier := &fakeVerifier{key: &models.ServiceKey{MerchantID: 42}}
	app := fiber.New()
	app.Use(NewServiceKeyMiddleware(verifier, zerolog.Nop()).Handler)
	app.Get("/ok", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"merchant_id": c.Locals("merchantID")})
	})

	t.Run("missing key", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ok", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejected key", func(t *testing.T) {
		verifier.err = errors.New("invalid service key")
		defer func() { verifier.err = nil }()

		req := httptest.NewRequest(http.MethodGet, "/ok", nil)
		req.Header.Set("X-API-Key", "csk_bad_key")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("valid key pins merchant", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ok", nil)
		req.Header.Set("X-API-Key", "csk_good_key")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestRequirePermission(t *testing.T) {
	newApp := func(claims *models.OperatorClaims) *fiber.App {
		app := fiber.New()
		app.Use(func(c *fiber.Ctx) error {
			c.Locals("claims", claims)
			return c.Next()
		})
		app.Get("/guarded", RequirePermission(models.PermissionRuleWrite), func(c *fiber.Ctx) error {
			return c.SendStatus(http.StatusOK)
		})
		return app
	}

	t.Run("viewer denied", func(t *testing.T) {
		app := newApp(&models.OperatorClaims{
			Role:        models.RoleViewer,
			Permissions: models.GetDefaultPermissions(models.RoleViewer),
		})
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/guarded", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("operator allowed", func(t *testing.T) {
		app := newApp(&models.OperatorClaims{
			Role:        models.RoleOperator,
			Permissions: models.GetDefaultPermissions(models.RoleOperator),
		})
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/guarded", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("admin bypasses", func(t *testing.T) {
		app := newApp(&models.OperatorClaims{Role: models.RoleAdmin})
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/guarded", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}
