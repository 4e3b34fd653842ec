package routes

import (
	"etf_dashboard/controllers"
	"etf_dashboard/metrics"
	"etf_dashboard/middleware"

	"github.com/gin-gonic/gin"
)

// Dependencies are the services behind the API.
type Dependencies struct {
	JWTSecret      string
	RateLimitRPS   float64
	RateLimitBurst int
	LoginLimiter   *middleware.RateLimiter

	Auth        controllers.AuthService
	Market      controllers.MarketService
	Archive     controllers.StatusReporter
	Signals     controllers.SignalService
	Screener    controllers.ScreenerService
	Portfolios  controllers.PortfolioService
	Simulations controllers.SimulationService
	Hub         controllers.PriceStream
	Admin       controllers.AdminOps
}

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	controllers.RegisterValidators()

	authController := controllers.NewAuthController(deps.Auth)
	marketController := controllers.NewMarketController(deps.Market, deps.Archive)
	signalController := controllers.NewSignalController(deps.Signals)
	screenerController := controllers.NewScreenerController(deps.Screener)
	portfolioController := controllers.NewPortfolioController(deps.Portfolios)
	simulationController := controllers.NewSimulationController(deps.Simulations)
	wsController := controllers.NewWSController(deps.Hub)
	adminController := controllers.NewAdminController(deps.Admin)

	requireAuth := middleware.JWTAuth(deps.JWTSecret)
	loginLimiter := deps.LoginLimiter
	if loginLimiter == nil {
		loginLimiter = middleware.NewLoginRateLimiter()
	}

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/ws/prices", wsController.Prices)

	// API v1 group
	api := router.Group("/api/v1")
	api.Use(middleware.IPRateLimit(deps.RateLimitRPS, deps.RateLimitBurst))
	{
		// Auth routes
		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/register", authController.Register)
			authRoutes.POST("/login", middleware.LoginRateLimit(loginLimiter), authController.Login)
			authRoutes.GET("/me", requireAuth, authController.Me)
		}

		api.GET("/etfs", marketController.ListETFs)
		api.GET("/etfs/screen", screenerController.Screen)
		api.GET("/etfs/screen/presets", screenerController.GetPresets)

		// Market data routes
		market := api.Group("/market")
		{
			market.GET("/providers", marketController.GetProviders)
			market.GET("/:symbol/quote", marketController.GetQuote)
			market.GET("/:symbol/history", marketController.GetHistory)
			market.GET("/:symbol/profile", marketController.GetProfile)
			market.GET("/:symbol/indicators", marketController.GetIndicators)
		}

		// Signal routes
		signals := api.Group("/signals")
		{
			signals.GET("", signalController.ListSignals)
			signals.GET("/:symbol", signalController.GetSignal)
			signals.POST("/:symbol/generate", requireAuth, signalController.GenerateSignal)
		}

		// Portfolio routes
		portfolios := api.Group("/portfolios", requireAuth)
		{
			portfolios.GET("", portfolioController.ListPortfolios)
			portfolios.POST("", portfolioController.CreatePortfolio)
			portfolios.GET("/:id", portfolioController.GetPortfolio)
			portfolios.GET("/:id/valuation", portfolioController.GetValuation)
			portfolios.GET("/:id/transactions", portfolioController.ListTransactions)
			portfolios.POST("/:id/transactions", portfolioController.AddTransaction)
		}

		// Simulation routes
		simulations := api.Group("/simulations", requireAuth)
		{
			simulations.GET("", simulationController.ListSimulations)
			simulations.POST("", simulationController.CreateSimulation)
			simulations.POST("/backtest", simulationController.RunBacktest)
			simulations.GET("/:id", simulationController.GetSimulation)
			simulations.POST("/:id/start", simulationController.StartSimulation)
			simulations.POST("/:id/stop", simulationController.StopSimulation)
		}

		api.GET("/ws/stats", wsController.Stats)

		// Admin routes
		admin := api.Group("/admin", requireAuth, middleware.RequireRole("admin"))
		{
			admin.POST("/signals/generate", adminController.GenerateSignals)
			admin.POST("/alerts/check", adminController.CheckAlerts)
			admin.POST("/market/:symbol/refresh", adminController.RefreshHistory)
		}
	}
}
