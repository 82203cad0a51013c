// Package main is the entry point for the routing engine. It initializes
// the databases, builds the engine services in dependency order, starts the
// background loops, and serves the API until interrupted.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cascade/internal/config"
	"cascade/internal/metrics"
	"cascade/internal/repositories"
	"cascade/internal/repositories/cache"
	"cascade/internal/routes"
	"cascade/internal/services/auth"
	"cascade/internal/services/decision"
	"cascade/internal/services/failover"
	"cascade/internal/services/health"
	"cascade/internal/services/ledger"
	"cascade/internal/services/router"
	"cascade/internal/services/rules"
	"cascade/internal/services/selector"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func main() {
	config.LoadEnv()

	logger := newLogger()

	if err := repositories.InitDB(); err != nil {
		logger.Fatal().Err(err).Msg("database migration failed")
	}
	db := repositories.DB
	redisClient := repositories.RedisClient

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to get database instance")
	}
	if err := sqlDB.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("database unreachable")
	}
	logger.Info().Msg("connected to postgres")

	// Background loops and the invalidation listener stop when this context
	// is cancelled by SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector(logger)
	metricsServer := collector.StartServer(config.GetEnv("METRICS_ADDR", ":9090"))

	merchantRepo := repositories.NewMerchantRepository(db)
	accountRepo := repositories.NewAccountRepository(db)
	poolRepo := repositories.NewPoolRepository(db)
	ruleRepo := repositories.NewRuleRepository(db)
	decisionRepo := repositories.NewDecisionRepository(db)
	operatorRepo := repositories.NewOperatorRepository(db)
	keyRepo := repositories.NewServiceKeyRepository(db)

	// Each instance gets its own origin so it can skip the invalidations it
	// published itself.
	broadcaster := cache.NewBroadcaster(redisClient, uuid.NewString())

	// Engine services in dependency order: the ledger and health tracker
	// feed selection, selection feeds failover, everything feeds the
	// router. Zero-valued config fields fall back to package defaults.
	usageLedger := ledger.NewService(accountRepo, ledger.Config{
		FlushInterval: config.GetDurationEnv("USAGE_FLUSH_INTERVAL", 0),
		SweepInterval: config.GetDurationEnv("USAGE_SWEEP_INTERVAL", 0),
	}, logger, collector)

	tracker := health.NewService(accountRepo, nil, health.Config{
		DegradeThreshold: config.GetFloatEnv("HEALTH_DEGRADE_THRESHOLD", 0),
		DefaultCooldown:  config.GetDurationEnv("HEALTH_DEFAULT_COOLDOWN", 0),
		ProbeInterval:    config.GetDurationEnv("HEALTH_PROBE_INTERVAL", 0),
		FlushInterval:    config.GetDurationEnv("HEALTH_FLUSH_INTERVAL", 0),
	}, logger, collector)

	accountSelector := selector.NewService(poolRepo, accountRepo, usageLedger, tracker, selector.Config{
		SnapshotTTL: config.GetDurationEnv("POOL_SNAPSHOT_TTL", 0),
	}, logger, collector)

	ruleEngine := rules.NewService(ruleRepo, poolRepo, accountRepo, broadcaster, rules.Config{}, logger, collector)

	recorder := decision.NewService(decisionRepo, repositories.CacheService, logger, collector)

	controller := failover.NewService(accountSelector, tracker, failover.Config{
		StateTTL:      config.GetDurationEnv("DECISION_STATE_TTL", 0),
		SweepInterval: config.GetDurationEnv("DECISION_SWEEP_INTERVAL", 0),
		// A decision whose outcome report never arrives still needs its
		// audit row closed out.
		OnAbandon: func(decisionID string) {
			if err := recorder.Abandon(context.Background(), decisionID); err != nil {
				logger.Warn().Err(err).Str("decision_id", decisionID).Msg("failed to abandon decision")
			}
		},
	}, logger, collector)

	routerService := router.NewService(merchantRepo, ruleEngine, accountSelector, controller, recorder, router.Config{
		DefaultDeadline: config.GetDurationEnv("ROUTING_DEADLINE", 0),
	}, logger, collector)

	authService := auth.NewService(operatorRepo, keyRepo, logger)

	go usageLedger.Run(ctx)
	go tracker.Run(ctx)
	go controller.Run(ctx)
	go listenInvalidations(ctx, broadcaster, ruleEngine, accountSelector, logger)

	app := fiber.New(fiber.Config{
		AppName:      "cascade",
		ReadTimeout:  config.GetDurationEnv("HTTP_READ_TIMEOUT", 10*time.Second),
		WriteTimeout: config.GetDurationEnv("HTTP_WRITE_TIMEOUT", 10*time.Second),
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:     config.GetEnv("CORS_ORIGINS", "http://localhost:5173"),
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-API-Key",
		AllowMethods:     "GET,POST,HEAD,PUT,DELETE,PATCH",
		AllowCredentials: true,
	}))

	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	app.Use("/api/login", limiter.New(limiter.Config{
		Max:        5,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests. Please try again later.",
			})
		},
	}))

	routes.SetupRoutes(app, routes.Deps{
		DB:     db,
		Redis:  redisClient,
		Logger: logger,

		Auth:      authService,
		Router:    routerService,
		Decisions: recorder,
		Rules:     ruleEngine,
		Selector:  accountSelector,
		Health:    tracker,
		Ledger:    usageLedger,

		Merchants: merchantRepo,
		Accounts:  accountRepo,
		Pools:     poolRepo,
		Operators: operatorRepo,

		Publisher: broadcaster,
	})

	go func() {
		addr := ":" + config.GetEnv("PORT", "3000")
		logger.Info().Str("addr", addr).Msg("starting api server")
		if err := app.Listen(addr); err != nil {
			logger.Error().Err(err).Msg("api server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error().Err(err).Msg("api server shutdown failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown failed")
	}

	// Push the write-behind counters out so the account rows are current
	// when the next instance starts.
	usageLedger.Flush(shutdownCtx)
	tracker.Flush(shutdownCtx)

	if err := sqlDB.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close postgres connection")
	}
	if err := redisClient.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close redis connection")
	}
}

// listenInvalidations applies snapshot invalidations published by other
// instances. Rule invalidations are merchant scoped; pool invalidations name
// either one pool or, for account changes, every pool of a merchant.
func listenInvalidations(ctx context.Context, b *cache.Broadcaster, engine rules.Service, sel selector.Service, logger zerolog.Logger) {
	err := b.Listen(ctx, func(inv cache.Invalidation) {
		switch inv.Kind {
		case cache.InvalidateRules:
			engine.Invalidate(inv.MerchantID)
		case cache.InvalidatePools:
			if inv.PoolID != 0 {
				sel.InvalidatePool(inv.PoolID)
			}
			if inv.MerchantID != 0 {
				sel.InvalidateMerchant(inv.MerchantID)
			}
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("invalidation listener stopped")
	}
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(config.GetEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}

	if config.IsProduction() {
		return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()
}
