package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"crash-game/internal/auth"
	"crash-game/internal/blockchain"
	"crash-game/internal/config"
	"crash-game/internal/database"
	"crash-game/internal/fairness"
	"crash-game/internal/handlers"
	"crash-game/internal/jobs"
	"crash-game/internal/metrics"
	"crash-game/internal/realtime"
	"crash-game/internal/repository"
	"crash-game/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize JWT
	auth.InitJWT(cfg.App.JWTSecret)

	// Connect to database
	if err := database.Connect(cfg.Database.Driver, cfg.GetDSN()); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migrations
	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db := database.GetDB()
	repo := repository.NewRepository(db)
	broadcaster := realtime.NewBroadcaster(cfg.Realtime.HistorySize, cfg.Realtime.SubscriberBuffer)

	// Ledger and house account
	ledger := services.NewLedgerService(db)
	houseID, err := ledger.EnsureHouse(ctx)
	if err != nil {
		log.Fatalf("Failed to create house account: %v", err)
	}
	log.Printf("House account: user %d", houseID)

	// Kill switches start engaged until the first load succeeds
	control := services.NewControlService(db, broadcaster)
	if err := control.Refresh(ctx); err != nil {
		log.Printf("[Control] initial load failed, failing closed: %v", err)
	}

	// Chain source and payer
	source, payer, closeChain := connectChain(ctx, cfg)
	defer closeChain()

	var custody services.CustodySource
	var indexer *services.DepositIndexer
	if source != nil {
		custody = source
		indexer = services.NewDepositIndexer(repo, ledger, source, control, cfg.Chain)
	}

	// Initialize services
	authService := services.NewAuthService(db, ledger, cfg.App.ChallengeTTL, cfg.App.AdminWallets)
	adminService := services.NewAdminService(db)
	userService := services.NewUserService(db)
	withdrawalService := services.NewWithdrawalService(ledger, payer, control, cfg.Chain.Kind)
	reconciler := services.NewReconciliationService(ledger, repo, custody, control)
	engine := services.NewRoundEngine(
		cfg.Game,
		repo,
		ledger,
		fairness.NewVault(cfg.Game.HouseEdgeBps),
		broadcaster,
		control,
	)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	gameHandler := handlers.NewGameHandler(engine, repo, broadcaster, cfg.Ledger.Decimals)
	accountHandler := handlers.NewAccountHandler(ledger, withdrawalService, cfg.Ledger.Decimals)
	fairnessHandler := handlers.NewFairnessHandler(repo)
	userHandler := handlers.NewUserHandler(userService, cfg.Ledger.Decimals)
	adminHandler := handlers.NewAdminHandler(
		adminService,
		control,
		reconciler,
		indexer,
		withdrawalService,
		ledger,
		repo,
		cfg.Ledger.Decimals,
	)
	wsHandler := realtime.NewHandler(broadcaster, cfg.Server.AllowedOrigins)

	// Background workers
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return control.Watch(gctx, cfg.Jobs.ControlPollInterval) })
	if cfg.Database.Driver != "sqlite" {
		g.Go(func() error {
			// polling still covers switch changes if LISTEN is unavailable
			if err := control.Listen(gctx, cfg.GetDSN()); err != nil {
				log.Printf("[Control] %v", err)
			}
			return nil
		})
	}
	if indexer != nil {
		g.Go(func() error { return indexer.Run(gctx) })
	}

	reconcileJob := jobs.NewReconciliationJob(reconciler, cfg.Jobs.ReconcileInterval)
	withdrawalJob := jobs.NewWithdrawalJob(withdrawalService, cfg.Jobs.WithdrawalInterval)
	challengeSweeper := jobs.NewChallengeSweeper(authService, 10*time.Minute)
	go reconcileJob.Start()
	go withdrawalJob.Start()
	go challengeSweeper.Start()

	// Set up Gin router
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"time":        time.Now().Format(time.RFC3339),
			"subscribers": broadcaster.SubscriberCount(),
			"switches":    control.Flags(),
		})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/ws", wsHandler.Serve)

	// Authentication routes (public)
	authRoutes := router.Group("/auth")
	{
		authRoutes.POST("/challenge", authHandler.Challenge)
		authRoutes.POST("/wallet", authHandler.WalletLogin)
	}

	// Authenticated /auth/me route
	authProtected := router.Group("/auth")
	authProtected.Use(auth.AuthMiddleware())
	{
		authProtected.GET("/me", authHandler.Me)
	}

	// Public game routes
	router.GET("/api/rounds/current", gameHandler.CurrentRound)
	router.GET("/api/rounds", gameHandler.ListRounds)
	router.GET("/api/rounds/:id", gameHandler.GetRound)
	router.GET("/api/fairness/rounds/:id", fairnessHandler.VerifyRound)
	router.POST("/api/fairness/verify", fairnessHandler.Verify)

	// API routes (protected)
	api := router.Group("/api")
	api.Use(auth.AuthMiddleware())
	{
		api.POST("/bets", gameHandler.PlaceBet)
		api.POST("/bets/:id/cashout", gameHandler.CashOut)
		api.GET("/bets", gameHandler.ListBets)

		api.GET("/account", accountHandler.GetAccount)
		api.GET("/account/entries", accountHandler.ListEntries)
		api.POST("/account/withdrawals", accountHandler.RequestWithdrawal)
		api.GET("/account/withdrawals", accountHandler.ListWithdrawals)

		api.GET("/user/profile", userHandler.GetProfile)
		api.PUT("/user/nickname", userHandler.UpdateNickname)
	}

	// Admin routes (protected + admin only)
	admin := router.Group("/api/admin")
	admin.Use(auth.AuthMiddleware())
	admin.Use(auth.AdminMiddleware(authService))
	{
		admin.GET("/switches", adminHandler.ListSwitches)
		admin.PUT("/switches/:name", adminHandler.SetSwitch)
		admin.GET("/incidents", adminHandler.ListIncidents)
		admin.POST("/incidents/:id/resolve", adminHandler.ResolveIncident)
		admin.POST("/reconcile", adminHandler.Reconcile)

		admin.GET("/deposits", adminHandler.ListDeposits)
		admin.POST("/deposits/reprocess", adminHandler.ReprocessDeposits)
		admin.POST("/deposits/:tx/assign", adminHandler.AssignDeposit)

		admin.GET("/withdrawals", adminHandler.ListWithdrawals)
		admin.POST("/withdrawals/:ref/complete", adminHandler.CompleteWithdrawal)
		admin.POST("/withdrawals/:ref/fail", adminHandler.FailWithdrawal)

		admin.POST("/adjustments", adminHandler.Adjust)
		admin.GET("/stats", adminHandler.GetStats)
		admin.GET("/logs", adminHandler.GetAdminLogs)
		admin.POST("/users/:id/promote", adminHandler.PromoteToAdmin)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server starting on port %s", cfg.Server.Port)
		log.Printf("Health check: http://localhost:%s/health", cfg.Server.Port)
		log.Printf("Event stream: ws://localhost:%s/ws", cfg.Server.Port)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal or a worker failure
	<-gctx.Done()
	log.Println("Shutting down server...")

	reconcileJob.Stop()
	withdrawalJob.Stop()
	challengeSweeper.Stop()

	// Graceful shutdown with 5 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	stop()
	if err := g.Wait(); err != nil {
		log.Printf("Worker stopped with error: %v", err)
	}
	broadcaster.Close()

	log.Println("Server exited")
}

// connectChain builds the deposit source and withdrawal payer for the
// configured chain kind. Both sources also report the custody balance.
func connectChain(ctx context.Context, cfg *config.Config) (blockchain.Source, blockchain.Payer, func()) {
	noop := func() {}
	chain := cfg.Chain

	switch chain.Kind {
	case blockchain.ChainEVM:
		src, err := blockchain.NewEVMSource(ctx, chain.RPCURL, chain.TokenContract, chain.CustodialAddress, chain.TokenDecimals, cfg.Ledger.Decimals)
		if err != nil {
			log.Fatalf("Failed to connect EVM node: %v", err)
		}
		if chain.PayerPrivateKey != "" {
			log.Println("[Withdrawals] EVM payouts are manual; CHAIN_PAYER_PRIVATE_KEY is ignored")
		}
		return src, blockchain.ManualPayer{}, src.Close

	case blockchain.ChainSolana:
		src, err := blockchain.NewSolanaSource(chain.RPCURL, chain.TokenContract, chain.CustodialAddress, cfg.Ledger.Decimals)
		if err != nil {
			log.Fatalf("Failed to connect Solana RPC: %v", err)
		}
		var payer blockchain.Payer = blockchain.ManualPayer{}
		if chain.PayerPrivateKey != "" {
			p, err := blockchain.NewSolanaPayer(chain.RPCURL, chain.PayerPrivateKey, chain.TokenContract, chain.TokenDecimals, cfg.Ledger.Decimals)
			if err != nil {
				log.Fatalf("Failed to load payer wallet: %v", err)
			}
			payer = p
		}
		return src, payer, noop

	case "none", "":
		log.Println("[DepositIndexer] no chain configured; deposits and custody checks are disabled")
		return nil, blockchain.ManualPayer{}, noop

	default:
		log.Fatalf("Unsupported CHAIN_KIND %q", chain.Kind)
		return nil, nil, noop
	}
}
