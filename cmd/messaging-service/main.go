package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"roomhub-messaging/internal/config"
	"roomhub-messaging/internal/database"
	"roomhub-messaging/internal/feed"
	chatHandler "roomhub-messaging/internal/handler/http/chat"
	inboxHandler "roomhub-messaging/internal/handler/http/inbox"
	wsHandler "roomhub-messaging/internal/handler/ws"
	"roomhub-messaging/internal/middleware"
	"roomhub-messaging/internal/repository/postgres"
	chatService "roomhub-messaging/internal/service/chat"
	"roomhub-messaging/internal/service/directory"
	"roomhub-messaging/internal/service/resolver"
	"roomhub-messaging/pkg/cache"
	"roomhub-messaging/pkg/jwt"
	"roomhub-messaging/pkg/logger"
	"roomhub-messaging/pkg/metrics"
)

func main() {
	// .env is optional; container deployments set real environment
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Postgres
	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Connected to Postgres",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Database),
	)

	// Redis
	redisDB, err := database.NewRedisDB(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()
	logger.Info("Connected to Redis", zap.String("host", cfg.Redis.Host))

	// Repositories
	conversationRepo := postgres.NewConversationRepository(db.Pool)
	messageRepo := postgres.NewMessageRepository(db.Pool)
	readStateRepo := postgres.NewReadStateRepository(db.Pool)
	userRepo := postgres.NewUserRepository(db.Pool)

	// Change feed
	changeFeed := feed.NewRedisFeed(redisDB.Client)

	// Services
	resolverSvc := resolver.NewService(conversationRepo, userRepo, cfg.Messaging.ScopePerListing)
	chatSvc := chatService.NewService(messageRepo, conversationRepo, readStateRepo, changeFeed, cfg.Messaging.HistoryLimit)
	labelCache := cache.NewLabelCache(cfg.Messaging.LabelCacheTTL)
	directorySvc := directory.NewService(conversationRepo, userRepo, labelCache)

	// Metrics
	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// Handlers
	chatHdlr := chatHandler.NewHandler(resolverSvc, chatSvc)
	inboxHdlr := inboxHandler.NewHandler(directorySvc, chatSvc)
	gateway := wsHandler.NewGateway(chatSvc, resolverSvc, changeFeed, appMetrics)

	// Token verification
	verifier := jwt.NewVerifier(cfg.JWT.Secret, cfg.JWT.Issuer)

	// Router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.SetTrustedProxies(nil)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": cfg.Server.ServiceName,
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler())

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(verifier))
	{
		v1.POST("/conversations/resolve", chatHdlr.ResolveConversation)
		v1.GET("/conversations/:id/messages", chatHdlr.GetMessages)
		v1.POST("/conversations/:id/messages", chatHdlr.SendMessage)
		v1.POST("/conversations/:id/read", chatHdlr.MarkRead)
		v1.GET("/conversations/:id/read", chatHdlr.GetReadState)
		v1.DELETE("/messages/:id", chatHdlr.DeleteMessage)

		v1.GET("/inbox", inboxHdlr.ListInbox)
		v1.GET("/inbox/unread", inboxHdlr.TotalUnread)

		v1.GET("/ws", gateway.ServeWS)
	}

	// Server with graceful shutdown
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Messaging service starting",
			zap.String("addr", addr),
			zap.String("environment", cfg.Server.Environment),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down messaging service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Forced shutdown", zap.Error(err))
	}

	logger.Info("Messaging service stopped")
}
