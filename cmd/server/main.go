package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	eventapp "github.com/loyalty/points/internal/application/event"
	pointsapp "github.com/loyalty/points/internal/application/points"
	"github.com/loyalty/points/internal/infrastructure/auth"
	"github.com/loyalty/points/internal/infrastructure/cache"
	"github.com/loyalty/points/internal/infrastructure/config"
	"github.com/loyalty/points/internal/infrastructure/event"
	"github.com/loyalty/points/internal/infrastructure/logger"
	"github.com/loyalty/points/internal/infrastructure/persistence"
	"github.com/loyalty/points/internal/infrastructure/scheduler"
	"github.com/loyalty/points/internal/infrastructure/storage"
	"github.com/loyalty/points/internal/infrastructure/telemetry"
	"github.com/loyalty/points/internal/interfaces/http/handler"
	"github.com/loyalty/points/internal/interfaces/http/middleware"
	"github.com/loyalty/points/internal/interfaces/http/router"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const pruneDayCountersJob = "prune-day-counters"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Service:    cfg.App.Name,
		Env:        cfg.App.Env,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	loc, err := cfg.Engine.Location()
	if err != nil {
		log.Fatal("Invalid engine timezone", zap.Error(err))
	}

	log.Info("Starting points engine",
		zap.String("version", version),
		zap.String("port", cfg.App.Port),
		zap.String("timezone", loc.String()),
	)

	// Telemetry providers are no-ops when disabled
	rootCtx := context.Background()
	tracerProvider, err := telemetry.NewTracerProvider(rootCtx, cfg.Telemetry, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(rootCtx, cfg.Telemetry, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	loggerProvider, err := telemetry.NewLoggerProvider(rootCtx, cfg.Telemetry, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	log = loggerProvider.Bridge(log)
	profiler, err := telemetry.NewProfiler(cfg.Telemetry, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	meter := meterProvider.Meter(cfg.Telemetry.ServiceName)
	pointsMetrics, err := telemetry.NewPointsMetrics(meter)
	if err != nil {
		log.Fatal("Failed to create points metrics", zap.Error(err))
	}

	gormLog := logger.NewSQLLogger(log, logger.SQLLogConfig{
		Level:         logger.SQLLevel(cfg.Log.Level),
		SlowThreshold: cfg.Telemetry.DBSlowQueryThresh,
		FullSQL:       cfg.Telemetry.DBLogFullSQL,
	})

	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if db.Driver() == "sqlite" {
		if err := db.AutoMigrate(); err != nil {
			log.Fatal("Failed to migrate sqlite database", zap.Error(err))
		}
	}
	if err := telemetry.NewDBTracing(cfg.Telemetry, cfg.Database.DBName, log).Register(db.DB); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	log.Info("Database connected successfully", zap.String("driver", db.Driver()))

	// Redis-backed stores, or process-local ones when Redis is off or unreachable
	stores, err := cache.NewStoreFactory(cfg.Redis, cfg.Engine.BalanceCacheTTL, cache.WithLogger(log)).CreateStores(rootCtx)
	if err != nil {
		log.Fatal("Failed to create cache stores", zap.Error(err))
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Error("Error closing cache stores", zap.Error(err))
		}
	}()

	// Outbox: events are written in the business transaction and delivered later
	eventSerializer := event.NewEventSerializer()
	event.RegisterPointsEvents(eventSerializer)
	outboxWriter := event.NewOutboxWriter(eventSerializer, cfg.Event.MaxAttempts)
	outboxRepo := event.NewGormOutboxRepository(db.DB)

	// Repositories
	ruleRepo := persistence.NewGormRuleRepository(db.DB)
	campaignRepo := persistence.NewGormCampaignRepository(db.DB)
	riskRuleRepo := persistence.NewGormRiskRuleRepository(db.DB)
	memberRepo := persistence.NewGormMemberRepository(db.DB)
	decisionRepo := persistence.NewGormDecisionRepository(db.DB)
	blacklistRepo := persistence.NewGormBlacklistRepository(db.DB)
	ledgerRepo := persistence.NewGormLedgerRepository(db.DB)
	grantTaskRepo := persistence.NewGormGrantTaskRepository(db.DB)
	counterStore := persistence.NewGormCounterStore(db.DB)
	txScope := persistence.NewGormTransactionScope(db.DB, outboxWriter)

	// Application services
	engineService := pointsapp.NewEngineService(
		ruleRepo, campaignRepo, riskRuleRepo, memberRepo, decisionRepo, blacklistRepo,
		stores.RiskCounters, txScope,
		pointsapp.EngineConfig{DowngradeMultiplier: cfg.Engine.DowngradeMultiplier, Location: loc},
	)
	engineService.SetBalanceCache(stores.Balances)
	engineService.SetMetrics(pointsMetrics)
	engineService.SetLogger(log)

	ledgerService := pointsapp.NewLedgerService(ledgerRepo, txScope, loc)
	ledgerService.SetBalanceCache(stores.Balances)
	ledgerService.SetMetrics(pointsMetrics)
	ledgerService.SetLogger(log)
	if cfg.Storage.Enabled {
		archive, err := storage.NewS3Archive(rootCtx, cfg.Storage, log)
		if err != nil {
			log.Fatal("Failed to create export archive", zap.Error(err))
		}
		ledgerService.SetExportArchive(archive)
		log.Info("Ledger export archive enabled", zap.String("bucket", archive.Bucket()))
	}

	grantService := pointsapp.NewGrantService(grantTaskRepo, memberRepo, txScope, pointsapp.GrantConfig{
		BatchSize:     cfg.Grant.BatchSize,
		MaxConcurrent: cfg.Grant.MaxConcurrent,
		Location:      loc,
	})
	grantService.SetBalanceCache(stores.Balances)
	grantService.SetMetrics(pointsMetrics)
	grantService.SetLogger(log)

	ruleService := pointsapp.NewRuleService(ruleRepo, ledgerRepo)
	ruleService.SetLogger(log)
	campaignService := pointsapp.NewCampaignService(campaignRepo, ruleRepo, ledgerRepo)
	campaignService.SetSpendCounters(counterStore, loc)
	campaignService.SetLogger(log)
	riskRuleService := pointsapp.NewRiskRuleService(riskRuleRepo, blacklistRepo)
	riskRuleService.SetLogger(log)
	memberService := pointsapp.NewMemberService(memberRepo)
	memberService.SetLogger(log)
	dashboardService := pointsapp.NewDashboardService(ledgerRepo, ruleRepo, campaignRepo, decisionRepo, loc)
	outboxService := eventapp.NewOutboxService(outboxRepo, log)

	// Outbox subscribers apply each event once
	eventBus := event.NewInMemoryEventBus(log)
	dedup := event.NewDedup(stores.Idempotency, event.DefaultDedupTTL, log)
	for _, h := range dedup.Wrap(
		pointsapp.NewPointsFlowHandler(pointsMetrics, log),
		pointsapp.NewRiskAlertHandler(log),
	) {
		eventBus.Subscribe(h)
	}

	if cfg.Event.ProcessorEnabled {
		outbox := event.NewOutboxProcessor(outboxRepo, eventBus, eventSerializer, event.OutboxProcessorConfigFrom(cfg.Event), log)
		if err := outbox.Start(rootCtx); err != nil {
			log.Fatal("Failed to start outbox processor", zap.Error(err))
		}
		defer func() {
			if err := outbox.Stop(context.Background()); err != nil {
				log.Error("Error stopping outbox processor", zap.Error(err))
			}
		}()
	}

	// Nightly housekeeping
	if cfg.Maintenance.Enabled {
		maintenance := pointsapp.NewMaintenanceService(counterStore, cfg.Maintenance.CounterRetention, log)
		jobs := scheduler.New(scheduler.Config{
			Workers:       1,
			JobTimeout:    30 * time.Minute,
			RetryAttempts: cfg.Maintenance.RetryAttempts,
			RetryDelay:    cfg.Maintenance.RetryDelay,
		}, log)
		jobs.Register(pruneDayCountersJob, func(ctx context.Context) error {
			_, err := maintenance.PruneDayCounters(ctx)
			return err
		})
		trigger := scheduler.NewDailyTrigger(scheduler.DailyTriggerConfig{
			Hour:          cfg.Maintenance.Hour,
			Minute:        cfg.Maintenance.Minute,
			Location:      loc,
			CheckInterval: cfg.Maintenance.CheckInterval,
		}, jobs, log, pruneDayCountersJob)
		if err := jobs.Start(rootCtx); err != nil {
			log.Fatal("Failed to start scheduler", zap.Error(err))
		}
		if err := trigger.Start(rootCtx); err != nil {
			log.Fatal("Failed to start daily trigger", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = trigger.Stop(ctx)
			if err := jobs.Stop(ctx); err != nil {
				log.Error("Error stopping scheduler", zap.Error(err))
			}
		}()
	}

	// HTTP
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Fatal("Invalid trusted proxies", zap.Error(err))
		}
	} else {
		_ = engine.SetTrustedProxies(nil)
	}

	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	corsConfig.AllowMethods = cfg.HTTP.CORSAllowMethods
	corsConfig.AllowHeaders = append(cfg.HTTP.CORSAllowHeaders, middleware.OperatorHeader)
	engine.Use(middleware.CORSWithConfig(corsConfig))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	if cfg.HTTP.RateLimitEnabled {
		engine.Use(middleware.RateLimit(middleware.RateLimitConfig{
			Limiter: stores.RateLimiter,
			Limit:   cfg.HTTP.RateLimitRequests,
			Window:  cfg.HTTP.RateLimitWindow,
			Logger:  log,
		}))
		log.Info("Rate limiting enabled",
			zap.Int("requests", cfg.HTTP.RateLimitRequests),
			zap.Duration("window", cfg.HTTP.RateLimitWindow),
			zap.String("backend", stores.Backend),
		)
	}

	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     tracerProvider.IsEnabled(),
	}))
	if meterProvider.IsEnabled() {
		httpMetrics, err := middleware.HTTPMetrics(meter)
		if err != nil {
			log.Fatal("Failed to create HTTP metrics", zap.Error(err))
		}
		engine.Use(httpMetrics)
	}

	systemHandler := handler.NewSystemHandler(cfg.App.Name, version, map[string]handler.HealthCheck{
		"database": db.PingContext,
		"cache":    stores.Ping,
	})
	systemHandler.AddInfo("database", func() (any, error) { return db.Stats() })
	systemHandler.AddInfo("events", func() (any, error) { return dedup.Stats(), nil })
	systemHandler.AddInfo("outbox", func() (any, error) { return outboxService.Stats(context.Background()) })
	engine.GET("/health", systemHandler.Health)

	// Operator authentication guards everything under /api
	var authMiddleware gin.HandlerFunc
	if cfg.JWT.Enabled {
		jwtService, err := auth.NewJWTService(cfg.JWT)
		if err != nil {
			log.Fatal("Failed to create JWT service", zap.Error(err))
		}
		authMiddleware = middleware.JWTAuthMiddlewareWithConfig(middleware.JWTMiddlewareConfig{
			JWTService: jwtService,
			Logger:     log,
		})
	} else {
		log.Warn("JWT disabled; every caller acts as an anonymous administrator")
		authMiddleware = middleware.AnonymousOperator()
	}

	api := router.NewAPI(engine, router.WithMiddleware(authMiddleware, middleware.SpanAttributes()))
	api.Mount(router.PointsRoutes(router.PointsHandlers{
		Engine:    handler.NewEngineHandler(engineService, loc),
		Ledger:    handler.NewLedgerHandler(ledgerService, loc),
		Rules:     handler.NewRuleHandler(ruleService),
		Campaigns: handler.NewCampaignHandler(campaignService),
		RiskRules: handler.NewRiskRuleHandler(riskRuleService),
		Grants:    handler.NewGrantHandler(grantService),
		Members:   handler.NewMemberHandler(memberService),
		Dashboard: handler.NewDashboardHandler(dashboardService),
		Outbox:    handler.NewOutboxHandler(outboxService),
		System:    systemHandler,
	})...)
	api.Setup()

	// Pick up grant tasks interrupted by the previous shutdown
	if cfg.Grant.ResumeOnStart {
		resumed, err := grantService.ResumeUnfinished(rootCtx, cfg.Grant.ResumeLookback)
		if err != nil {
			log.Error("Failed to resume grant tasks", zap.Error(err))
		} else if resumed > 0 {
			log.Info("Resumed grant tasks", zap.Int("count", resumed))
		}
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	// Running grant tasks save their progress and are resumed on the next start
	if err := grantService.Stop(ctx); err != nil {
		log.Error("Grant tasks did not stop in time", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(ctx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}
	if err := meterProvider.Shutdown(ctx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}
	if err := profiler.Stop(); err != nil {
		log.Error("Error stopping profiler", zap.Error(err))
	}
	defer func() {
		// last, so the shutdown log lines above still reach the collector
		_ = loggerProvider.Shutdown(context.Background())
	}()

	stats := dedup.Stats()
	log.Info("Server exited gracefully",
		zap.Int64("events_handled", stats.Handled),
		zap.Int64("events_duplicate", stats.Duplicates),
		zap.Int64("events_failed", stats.Failed),
	)
}
