package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/blockforge/auctionhouse/internal/auction"
	"github.com/blockforge/auctionhouse/internal/auth"
	"github.com/blockforge/auctionhouse/internal/collection"
	"github.com/blockforge/auctionhouse/internal/config"
	"github.com/blockforge/auctionhouse/internal/database"
	"github.com/blockforge/auctionhouse/internal/economy"
	"github.com/blockforge/auctionhouse/internal/escrow"
	"github.com/blockforge/auctionhouse/internal/pricehistory"
	"github.com/blockforge/auctionhouse/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the auction house API server with graceful
// shutdown support. It wires the configuration store, database, economy
// wallet, escrow ledger, collection queue, price history, and the
// expiration sweeper before exposing the API routes.
func main() {
	configPath := os.Getenv("AH_CONFIG")
	if configPath == "" {
		configPath = "auction.yaml"
	}

	cfgStore, err := config.Load(configPath)
	if err != nil {
		zlog.Fatal().Err(err).Str("path", configPath).Msg("Failed to load configuration")
	}
	cfgStore.Watch()
	cfg := cfgStore.Snapshot()

	// Initialize database
	db, err := database.NewDatabase(cfg.Server.DBPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.Server.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	wallet := economy.NewWallet(db)
	economyHandlers := economy.NewGinHandlers(wallet)

	// Live notifications are optional: without redis every notification
	// goes through the offline queue.
	var publisher collection.Publisher
	if cfg.Server.RedisAddr != "" {
		redisPub, err := collection.NewRedisPublisher(cfg.Server.RedisAddr, cfg.Notify.Sound)
		if err != nil {
			zlog.Warn().Err(err).Str("addr", cfg.Server.RedisAddr).
				Msg("Redis unavailable, notifications will be queued")
		} else {
			publisher = redisPub
			defer redisPub.Close()
		}
	}

	collectionService := collection.NewService(db, publisher, cfg.Notify.QueueOffline)
	collectionHandlers := collection.NewGinHandlers(collectionService, wallet)

	priceService := pricehistory.NewService(db)
	priceHandlers := pricehistory.NewGinHandlers(priceService)

	pruner := pricehistory.NewPruner(priceService, cfg.History.RetentionDays)
	if err := pruner.Start(cfg.History.PruneSchedule); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to start price history pruner")
	}
	defer pruner.Stop()

	ledger := escrow.NewLedger(db, cfg.Bidding.EscrowEnabled)

	auctionService := auction.NewService(db, cfgStore, wallet, ledger, collectionService, priceService)
	auctionHandlers := auction.NewGinHandlers(auctionService)

	// Create and start the expiration sweeper
	sweeper := auction.NewSweeper(auctionService, time.Duration(cfg.Sweep.IntervalSeconds)*time.Second)
	sweeperCtx, sweeperCancel := context.WithCancel(context.Background())
	defer sweeperCancel()

	go sweeper.Start(sweeperCtx)

	// Setup API routes
	setupRoutes(router, cfg.Server.JWTSecret, authHandlers, auctionHandlers,
		collectionHandlers, priceHandlers, economyHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for session token issue
// - Listing routes: Browsing is public; mutations require JWT plus the
//   ban guard
// - Internal routes: Protected by internal auth (admin permission)
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	auctionHandlers *auction.GinHandlers,
	collectionHandlers *collection.GinHandlers,
	priceHandlers *pricehistory.GinHandlers,
	economyHandlers *economy.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes, limited per client IP
		authGroup := v1.Group("/auth")
		authGroup.Use(middleware.RateLimit())
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Public browsing routes, limited per client IP
		public := v1.Group("")
		public.Use(middleware.RateLimit())
		{
			public.GET("/listings", auctionHandlers.ListListingsHandler())
			public.GET("/listings/:listing_id", auctionHandlers.GetListingHandler())
			public.GET("/prices/:material", priceHandlers.HistoryHandler())
		}

		// Player routes. The limiter runs after auth so it keys per player.
		player := v1.Group("")
		player.Use(middleware.JWTAuth(jwtSecret), middleware.RateLimit())
		{
			player.GET("/balance", economyHandlers.BalanceHandler())
			player.GET("/transactions", auctionHandlers.TransactionsHandler())
			player.GET("/collection", collectionHandlers.CollectionHandler())
			player.DELETE("/collection/:entry_id", collectionHandlers.CollectEntryHandler())
			player.GET("/notifications", collectionHandlers.NotificationsHandler())

			mutations := player.Group("")
			mutations.Use(auctionHandlers.BanGuard())
			{
				mutations.POST("/listings", auctionHandlers.CreateListingHandler())
				mutations.GET("/listings/mine", auctionHandlers.MyListingsHandler())
				mutations.POST("/listings/:listing_id/bids", auctionHandlers.PlaceBidHandler())
				mutations.POST("/listings/:listing_id/buyout", auctionHandlers.BuyNowHandler())
				mutations.DELETE("/listings/:listing_id", auctionHandlers.CancelListingHandler())
			}
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/accounts/deposit", economyHandlers.DepositHandler())
			internal.POST("/bans", auctionHandlers.BanHandler())
			internal.DELETE("/bans/:player_id", auctionHandlers.UnbanHandler())
		}
	}
}
