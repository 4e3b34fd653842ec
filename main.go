package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"etf_dashboard/config"
	"etf_dashboard/logger"
	"etf_dashboard/middleware"
	"etf_dashboard/models"
	"etf_dashboard/routes"
	"etf_dashboard/scheduler"
	"etf_dashboard/services/alerts"
	"etf_dashboard/services/archive"
	"etf_dashboard/services/auth"
	"etf_dashboard/services/cache"
	"etf_dashboard/services/marketdata"
	"etf_dashboard/services/portfolio"
	"etf_dashboard/services/providers"
	"etf_dashboard/services/realtime"
	"etf_dashboard/services/screener"
	"etf_dashboard/services/signals"
	"etf_dashboard/services/simulation"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const version = "1.0.0"

// app holds what shutdown has to stop. Fields stay nil until background
// initialization reaches them.
type app struct {
	cfg *config.Config
	log zerolog.Logger

	ready   atomic.Bool
	handler atomic.Pointer[gin.Engine]

	db        *gorm.DB
	redis     *redis.Client
	archive   *archive.Archive
	runner    *simulation.Runner
	hub       *realtime.Hub
	scheduler *scheduler.Scheduler
	cancel    context.CancelFunc
}

func main() {
	cfg, cfgErr := config.LoadConfig()

	format := "console"
	if cfg.IsProduction() {
		format = "json"
		gin.SetMode(gin.ReleaseMode)
	}
	logger.Init(cfg.LogLevel, format, os.Stdout)
	log := logger.With("main")
	if cfgErr != nil {
		log.Fatal().Err(cfgErr).Msg("Invalid configuration")
	}
	log.Info().Str("version", version).Str("environment", cfg.Environment).Msg("ETF dashboard starting")

	a := &app{cfg: cfg, log: log}

	// Probes are served before the database is up; everything else is
	// answered by the API engine once initialization finishes.
	router := gin.New()
	router.Use(gin.Recovery(), middleware.CORS())
	a.setupHealthEndpoints(router)
	router.NoRoute(a.delegate)

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	initDone := make(chan struct{})
	go func() {
		defer close(initDone)
		if err := a.initialize(ctx); err != nil {
			log.Error().Err(err).Msg("Initialization failed, serving health checks only")
		}
	}()

	a.gracefulShutdown(server, initDone)
}

// initialize connects storage, builds the services and installs the API.
func (a *app) initialize(ctx context.Context) error {
	cfg := a.cfg
	log := a.log

	db, err := config.InitDB()
	if err != nil {
		return err
	}
	a.db = db

	log.Info().Msg("Running database migrations")
	if err := models.MigrateAll(db); err != nil {
		return err
	}

	if entries, err := config.LoadETFCatalog(cfg.ETFCatalogPath); err != nil {
		log.Warn().Err(err).Str("path", cfg.ETFCatalogPath).Msg("ETF catalog not loaded")
	} else if n, err := config.SeedETFs(db, entries); err != nil {
		log.Warn().Err(err).Msg("ETF catalog seed failed")
	} else {
		log.Info().Int("etfs", n).Msg("ETF catalog seeded")
	}

	memory := cache.NewMemoryCache()
	memory.StartJanitor(ctx, time.Minute)
	var shared cache.Cache
	if client, err := config.InitRedis(ctx); err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, using in-process cache only")
	} else {
		a.redis = client
		shared = cache.NewRedisCache(client, "etf:")
	}
	store := cache.NewLayered(memory, shared)

	set := providers.Build(cfg.ProviderOrder, providers.Keys{
		AlphaVantage: cfg.AlphaVantageAPIKey,
		FMP:          cfg.FMPAPIKey,
	})
	market := marketdata.NewService(db, store, set, marketdata.Config{
		QuoteTTL:   cfg.QuoteCacheTTL,
		HistoryTTL: cfg.HistoryCacheTTL,
		ProfileTTL: cfg.ProfileCacheTTL,
	})

	arch, err := archive.Connect(ctx, cfg.MongoDBURI, archive.DefaultDatabase)
	if err != nil {
		log.Warn().Err(err).Msg("Archive unavailable, continuing without it")
	}
	a.archive = arch

	signalService := signals.NewSignalService(db, market, arch)
	portfolios := portfolio.NewService(db, market)
	authService := auth.NewService(db, cfg.JWTSecret, cfg.JWTTTL)

	a.runner = simulation.NewRunner(db, market, cfg.MaxRunningSimulations)
	if n, err := a.runner.Resume(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to resume simulations")
	} else if n > 0 {
		log.Info().Int("simulations", n).Msg("Simulations resumed")
	}

	a.hub = realtime.NewHub(cfg.MaxWSClients)
	go realtime.NewPoller(a.hub, market, cfg.WSPollInterval).Run(ctx)

	checker := alerts.NewChecker(db, market, signalService, a.hub)
	jobs := scheduler.NewJobs(db, market, signalService, checker, arch)
	a.scheduler = scheduler.NewScheduler(jobs)
	if err := a.scheduler.Start(); err != nil {
		return err
	}

	api := gin.New()
	api.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.RequestLogger(),
		middleware.Metrics(),
	)
	loginLimiter := middleware.NewLoginRateLimiter()
	loginLimiter.StartCleanup(ctx, 5*time.Minute)

	routes.SetupRoutes(api, routes.Dependencies{
		JWTSecret:      cfg.JWTSecret,
		RateLimitRPS:   cfg.APIRateLimitRPS,
		RateLimitBurst: cfg.APIRateLimitBurst,
		LoginLimiter:   loginLimiter,
		Auth:           authService,
		Market:         market,
		Archive:        arch,
		Signals:        signalService,
		Screener:       screener.NewScreener(db),
		Portfolios:     portfolios,
		Simulations:    a.runner,
		Hub:            a.hub,
		Admin:          jobs,
	})
	a.handler.Store(api)
	a.ready.Store(true)

	log.Info().Msg("Application fully initialized")
	return nil
}

// delegate hands unmatched requests to the API engine once it exists.
func (a *app) delegate(c *gin.Context) {
	if api := a.handler.Load(); api != nil {
		api.ServeHTTP(c.Writer, c.Request)
		c.Abort()
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"error":   "unavailable",
		"message": "service is starting",
	})
}

// setupHealthEndpoints sets up the liveness, readiness and startup probes
func (a *app) setupHealthEndpoints(router *gin.Engine) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "ETF Dashboard API",
			"version": version,
		})
	})

	// Liveness probe - always returns OK if server is running
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness probe - services built and database reachable
	router.GET("/ready", func(c *gin.Context) {
		if !a.ready.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Initialization in progress",
			})
			return
		}

		sqlDB, err := a.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database ping failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":     "ready",
			"redis":      a.redis != nil,
			"archive":    a.archive != nil && a.archive.Enabled(),
			"ws_clients": a.hub.ClientCount(),
		})
	})

	router.GET("/startup", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "started"})
	})
}

// gracefulShutdown waits for SIGINT or SIGTERM, then stops background work
// before the HTTP server and finally closes storage.
func (a *app) gracefulShutdown(server *http.Server, initDone <-chan struct{}) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	a.log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialization must not race the teardown below.
	a.cancel()
	select {
	case <-initDone:
	case <-ctx.Done():
		a.log.Warn().Msg("Initialization still running at shutdown")
	}

	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.runner != nil {
		if err := a.runner.Shutdown(ctx); err != nil {
			a.log.Warn().Err(err).Msg("Simulations did not stop in time")
		}
	}
	if a.hub != nil {
		a.hub.Shutdown()
	}

	if err := server.Shutdown(ctx); err != nil {
		a.log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			sqlDB.Close()
			a.log.Info().Msg("Database connection closed")
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.archive != nil {
		if err := a.archive.Close(ctx); err != nil {
			a.log.Warn().Err(err).Msg("Archive close failed")
		}
	}

	a.log.Info().Msg("Server shutdown completed")
}
