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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/sashabaranov/go-openai"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/rms-knowledge-service/auth"
	"github.com/rms-knowledge-service/config"
	"github.com/rms-knowledge-service/handlers"
	"github.com/rms-knowledge-service/models"
	"github.com/rms-knowledge-service/services"
	"github.com/rms-knowledge-service/services/impl"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	db, err := initDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	if err := db.Exec("CREATE SCHEMA IF NOT EXISTS knowledge").Error; err != nil {
		log.Fatal("Failed to ensure knowledge schema:", err)
	}
	if err := db.AutoMigrate(
		&models.Document{},
		&models.DocumentChunk{},
		&models.Conversation{},
		&models.ConversationMessage{},
	); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Redis is optional: the limiter, session locks and the embedding cache
	// all degrade to in-process fallbacks without it.
	redisClient := initRedis(&cfg.Redis)

	blobStore, err := impl.NewBlobStore(&cfg.Storage)
	if err != nil {
		log.Fatal("Failed to initialize blob store:", err)
	}
	if err := blobStore.EnsureBucket(context.Background()); err != nil {
		log.Fatal("Failed to ensure storage bucket:", err)
	}

	vectorStore, err := impl.NewVectorStore(&cfg.Qdrant)
	if err != nil {
		log.Fatal("Failed to initialize vector store:", err)
	}
	if err := vectorStore.EnsureCollection(context.Background(), cfg.OpenAI.EmbeddingDimension); err != nil {
		log.Fatal("Failed to ensure vector collection:", err)
	}

	openaiClient := openai.NewClient(cfg.OpenAI.APIKey)

	accessService := impl.NewAccessControlService(&cfg.Access)
	rateLimiter := impl.NewRateLimiter(redisClient, &cfg.RateLimit)
	sessionLocker := impl.NewSessionLocker(redisClient)
	embeddingCache := impl.NewEmbeddingCache(redisClient)
	embeddingService := impl.NewEmbeddingService(openaiClient, &cfg.OpenAI, embeddingCache)
	imageService := impl.NewImageAnalysisService(openaiClient, &cfg.OpenAI)
	generationService := impl.NewGenerationService(openaiClient, &cfg.OpenAI)
	parser := impl.NewDocumentParser(imageService, cfg.Pipeline.SupportedExtensions)

	ingestionService := impl.NewIngestionService(db, blobStore, parser, embeddingService, vectorStore, &cfg.Pipeline)
	documentService := impl.NewDocumentService(db, blobStore, ingestionService, accessService, vectorStore, &cfg.Pipeline)
	retrievalService := impl.NewRetrievalService(embeddingService, vectorStore, &cfg.Retrieval)
	conversationService := impl.NewConversationService(db)
	sessionContextService := impl.NewSessionContextService(conversationService, embeddingService, cfg.Retrieval.MaxContextSize)
	chatService := impl.NewChatService(
		db,
		sessionLocker,
		conversationService,
		sessionContextService,
		retrievalService,
		generationService,
		imageService,
		&cfg.Sessions,
		&cfg.Retrieval,
	)

	chatHandlers := handlers.NewChatHandlers(chatService, retrievalService, accessService)
	documentHandlers := handlers.NewDocumentHandlers(documentService)
	sessionHandlers := handlers.NewSessionHandlers(conversationService)

	jwtValidator := auth.NewJWTValidator(cfg.Auth.JWTSecret, cfg.Auth.AllowedIssuers)
	router := setupRouter(cfg, jwtValidator, accessService, rateLimiter, chatHandlers, documentHandlers, sessionHandlers)

	scheduler := startCleanupJobs(conversationService, &cfg.Sessions)

	srv := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		log.Printf("[INFO] Knowledge service starting on %s", cfg.GetServerAddress())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("[INFO] Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[ERROR] Server forced to shutdown: %v", err)
	}

	scheduler.Stop()
	// Cancel in-flight document pipelines before losing the process.
	ingestionService.Shutdown()

	log.Println("[INFO] Server exited")
}

func initDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	return db, nil
}

func initRedis(cfg *config.RedisConfig) *redis.Client {
	if !cfg.Enabled || cfg.Host == "" {
		log.Println("[INFO] Redis disabled, using in-memory fallbacks")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		log.Printf("[WARN] Redis connection failed, using in-memory fallbacks: %v", err)
		return nil
	}

	log.Println("[INFO] Redis connection established")
	return client
}

func setupRouter(
	cfg *config.Config,
	jwtValidator *auth.JWTValidator,
	accessService services.AccessControlService,
	rateLimiter services.RateLimiter,
	chatHandlers *handlers.ChatHandlers,
	documentHandlers *handlers.DocumentHandlers,
	sessionHandlers *handlers.SessionHandlers,
) *gin.Engine {
	if os.Getenv("ENVIRONMENT") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"service":   "rms-knowledge-service",
		})
	})

	v1 := router.Group("/api/v1")
	v1.Use(handlers.AuthMiddleware(jwtValidator, accessService))

	v1.POST("/chat", handlers.RateLimitMiddleware(rateLimiter), chatHandlers.Chat)
	v1.POST("/search", handlers.RateLimitMiddleware(rateLimiter), chatHandlers.Search)
	v1.POST("/search/section", handlers.RateLimitMiddleware(rateLimiter), chatHandlers.SearchSection)
	v1.GET("/sections", chatHandlers.Sections)

	documents := v1.Group("/documents")
	{
		documents.POST("/upload", documentHandlers.Upload)
		documents.GET("/upload/options", documentHandlers.UploadOptions)
		documents.GET("", documentHandlers.List)
		documents.GET("/:id", documentHandlers.Get)
		documents.GET("/:id/status", documentHandlers.Status)
		documents.GET("/:id/chunks", documentHandlers.Chunks)
		documents.POST("/:id/reprocess", documentHandlers.Reprocess)
		documents.DELETE("/:id", documentHandlers.Delete)
	}

	sessions := v1.Group("/sessions")
	{
		sessions.GET("", sessionHandlers.List)
		sessions.GET("/:session_id/context", sessionHandlers.Context)
		sessions.DELETE("/:session_id", sessionHandlers.Delete)
	}

	return router
}

// startCleanupJobs schedules the periodic session maintenance: closing
// inactive sessions hourly and purging old ones daily.
func startCleanupJobs(conversations services.ConversationService, cfg *config.SessionConfig) *cron.Cron {
	scheduler := cron.New()

	_, err := scheduler.AddFunc("@hourly", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		removed, err := conversations.CleanupInactive(ctx, time.Duration(cfg.TimeoutMinutes)*time.Minute)
		if err != nil {
			log.Printf("[ERROR] Inactive session cleanup failed: %v", err)
			return
		}
		if removed > 0 {
			log.Printf("[INFO] Removed %d inactive sessions", removed)
		}
	})
	if err != nil {
		log.Printf("[ERROR] Failed to schedule inactive session cleanup: %v", err)
	}

	_, err = scheduler.AddFunc("@daily", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		removed, err := conversations.CleanupOld(ctx, time.Duration(cfg.RetentionDays)*24*time.Hour)
		if err != nil {
			log.Printf("[ERROR] Old session cleanup failed: %v", err)
			return
		}
		if removed > 0 {
			log.Printf("[INFO] Removed %d sessions past retention", removed)
		}
	})
	if err != nil {
		log.Printf("[ERROR] Failed to schedule old session cleanup: %v", err)
	}

	scheduler.Start()
	return scheduler
}
