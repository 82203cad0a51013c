// Package routes defines the API routing configuration. It builds the HTTP
// handlers on top of the engine services and registers every route with its
// middleware and permission requirements.
package routes

import (
	"cascade/internal/handlers"
	"cascade/internal/middleware"
	"cascade/internal/models"
	"cascade/internal/repositories"
	"cascade/internal/services/auth"
	"cascade/internal/services/decision"
	"cascade/internal/services/health"
	"cascade/internal/services/ledger"
	"cascade/internal/services/router"
	"cascade/internal/services/rules"
	"cascade/internal/services/selector"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Deps carries the constructed services and repositories the routes wire
// into handlers. cmd/server owns their lifecycle; this package only builds
// the HTTP surface on top of them.
type Deps struct {
	DB     *gorm.DB
	Redis  *redis.Client
	Logger zerolog.Logger

	Auth      auth.Service
	Router    router.Service
	Decisions decision.Service
	Rules     rules.Service
	Selector  selector.Service
	Health    health.Service
	Ledger    ledger.Service

	Merchants repositories.MerchantRepository
	Accounts  repositories.AccountRepository
	Pools     repositories.PoolRepository
	Operators repositories.OperatorRepository

	Publisher handlers.InvalidationPublisher
}

// handlerSet bundles the constructed handlers and auth middleware for the
// registration functions.
type handlerSet struct {
	auth      *handlers.AuthHandler
	routing   *handlers.RoutingHandler
	decisions *handlers.DecisionHandler
	rules     *handlers.RuleHandler
	pools     *handlers.PoolHandler
	accounts  *handlers.AccountHandler
	merchants *handlers.MerchantHandler
	health    *handlers.HealthHandler

	jwt        *middleware.AuthMiddleware
	serviceKey *middleware.ServiceKeyMiddleware
}

// SetupRoutes configures all application routes.
func SetupRoutes(app *fiber.App, d Deps) {
	h := handlerSet{
		auth:      handlers.NewAuthHandler(d.Auth),
		routing:   handlers.NewRoutingHandler(d.Router, d.Decisions),
		decisions: handlers.NewDecisionHandler(d.Decisions),
		rules:     handlers.NewRuleHandler(d.Rules),
		pools:     handlers.NewPoolHandler(d.Pools, d.Accounts, d.Selector, d.Publisher, d.Logger),
		accounts:  handlers.NewAccountHandler(d.Accounts, d.Selector, d.Health, d.Ledger, d.Publisher, d.Logger),
		merchants: handlers.NewMerchantHandler(d.Merchants, d.Auth),
		health:    handlers.NewHealthHandler(d.DB, d.Redis),

		jwt:        middleware.NewAuthMiddleware(d.Operators, d.Logger),
		serviceKey: middleware.NewServiceKeyMiddleware(d.Auth, d.Logger),
	}

	app.Get("/health", h.health.Check)
	app.Get("/health/cache", h.health.CacheStats)

	api := app.Group("/api")
	api.Post("/login", h.auth.Login)
	api.Post("/refresh", h.auth.Refresh)

	setupServiceRoutes(api, h)
	setupAdminRoutes(api, h)
}

// setupServiceRoutes wires the machine-facing routing surface. Every route
// is authenticated by service key, which pins the merchant.
func setupServiceRoutes(api fiber.Router, h handlerSet) {
	v1 := api.Group("/v1", h.serviceKey.Handler)

	v1.Post("/route", h.routing.Route)
	v1.Post("/outcome", h.routing.ReportOutcome)
	v1.Post("/simulate", h.routing.Simulate)
	v1.Get("/decisions/ref/:ref", h.routing.GetDecisionByRef)
	v1.Get("/decisions/:id", h.routing.GetDecision)
}

// setupAdminRoutes wires the operator-facing admin surface behind JWT auth
// with per-route permissions.
func setupAdminRoutes(api fiber.Router, h handlerSet) {
	authenticated := api.Group("/", h.jwt.Handler)
	authenticated.Post("/logout", h.auth.Logout)
	authenticated.Post("/change-password", h.auth.ChangePassword)

	admin := authenticated.Group("/admin")

	rules := admin.Group("/rules")
	rules.Get("/", middleware.RequirePermission(models.PermissionRuleRead), h.rules.List)
	rules.Post("/", middleware.RequirePermission(models.PermissionRuleWrite), h.rules.Create)
	rules.Post("/reorder", middleware.RequirePermission(models.PermissionRuleWrite), h.rules.Reorder)
	rules.Get("/:id", middleware.RequirePermission(models.PermissionRuleRead), h.rules.Get)
	rules.Put("/:id", middleware.RequirePermission(models.PermissionRuleWrite), h.rules.Update)
	rules.Delete("/:id", middleware.RequirePermission(models.PermissionRuleWrite), h.rules.Delete)
	rules.Get("/:id/versions", middleware.RequirePermission(models.PermissionRuleRead), h.rules.ListVersions)
	rules.Post("/:id/toggle", middleware.RequirePermission(models.PermissionRuleWrite), h.rules.Toggle)

	pools := admin.Group("/pools")
	pools.Get("/", middleware.RequirePermission(models.PermissionPoolRead), h.pools.List)
	pools.Post("/", middleware.RequirePermission(models.PermissionPoolWrite), h.pools.Create)
	pools.Get("/:id", middleware.RequirePermission(models.PermissionPoolRead), h.pools.Get)
	pools.Put("/:id", middleware.RequirePermission(models.PermissionPoolWrite), h.pools.Update)
	pools.Delete("/:id", middleware.RequirePermission(models.PermissionPoolWrite), h.pools.Delete)
	pools.Post("/:id/members", middleware.RequirePermission(models.PermissionPoolWrite), h.pools.AddMember)
	pools.Put("/:id/members/:accountId", middleware.RequirePermission(models.PermissionPoolWrite), h.pools.UpdateMember)
	pools.Delete("/:id/members/:accountId", middleware.RequirePermission(models.PermissionPoolWrite), h.pools.RemoveMember)

	accounts := admin.Group("/accounts")
	accounts.Get("/", middleware.RequirePermission(models.PermissionAccountRead), h.accounts.List)
	accounts.Post("/", middleware.RequirePermission(models.PermissionAccountWrite), h.accounts.Create)
	accounts.Get("/:id", middleware.RequirePermission(models.PermissionAccountRead), h.accounts.Get)
	accounts.Put("/:id", middleware.RequirePermission(models.PermissionAccountWrite), h.accounts.Update)
	accounts.Patch("/:id/status", middleware.RequirePermission(models.PermissionAccountWrite), h.accounts.UpdateStatus)
	accounts.Get("/:id/health", middleware.RequirePermission(models.PermissionAccountRead), h.accounts.GetHealth)
	accounts.Get("/:id/usage", middleware.RequirePermission(models.PermissionAccountRead), h.accounts.GetUsage)

	merchants := admin.Group("/merchants")
	merchants.Get("/", middleware.RequirePermission(models.PermissionReadAdmin), h.merchants.List)
	merchants.Post("/", middleware.RequirePermission(models.PermissionWriteAdmin), h.merchants.Create)
	merchants.Get("/:id", middleware.RequirePermission(models.PermissionReadAdmin), h.merchants.Get)
	merchants.Put("/:id", middleware.RequirePermission(models.PermissionWriteAdmin), h.merchants.Update)
	merchants.Post("/:id/keys", middleware.RequirePermission(models.PermissionWriteAdmin), h.merchants.CreateServiceKey)
	admin.Delete("/service-keys/:id", middleware.RequirePermission(models.PermissionWriteAdmin), h.merchants.RevokeServiceKey)

	decisions := admin.Group("/decisions")
	decisions.Get("/", middleware.RequirePermission(models.PermissionDecisionRead), h.decisions.List)
	decisions.Get("/:id", middleware.RequirePermission(models.PermissionDecisionRead), h.decisions.Get)

	admin.Post("/simulate", middleware.RequirePermission(models.PermissionSimulate), h.routing.SimulateFor)

	operators := admin.Group("/operators", middleware.AdminOnly)
	operators.Post("/", h.auth.CreateOperator)
}
