package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arusso/filedepot/cmd/api-server/middleware"
	"github.com/arusso/filedepot/internal/auth"
	"github.com/arusso/filedepot/internal/blob"
	"github.com/arusso/filedepot/internal/common"
	"github.com/arusso/filedepot/internal/metadata"
	"github.com/arusso/filedepot/internal/upload"
	"github.com/arusso/filedepot/pkg/config"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	cfg.Logging.SetupLogging()

	log.Info().Msg("Starting filedepot API server")

	// Initialize database
	db, err := common.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Initialize session cache
	cache, err := common.NewCache(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer cache.Close()

	// Initialize blob store
	blobs, err := blob.NewLocalStore(cfg.Blob.LocalPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize blob store")
	}

	// Initialize services
	files := metadata.NewFileStore(db)
	verifier := upload.NewVerifier(blobs, cfg.Upload.MaxChunkSize)
	worker := upload.NewWorker(verifier, files, cfg.Upload.BackfillQueueSize)
	uploadService := upload.NewService(blobs, files, cache, worker, &cfg.Upload)
	authService := auth.NewService(db, cache, &cfg.Auth)

	// Start the checksum backfill worker
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	go worker.Run(workerCtx)

	// Setup HTTP server
	router := setupRouter(authService, uploadService, cfg)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	stopWorker()

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	} else {
		log.Info().Msg("Server shutdown complete")
	}
}

func setupRouter(authService *auth.Service, uploadService *upload.Service, cfg *config.Config) *gin.Engine {
	if zerolog.GlobalLevel() == zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "filedepot",
			"time":    time.Now().UTC(),
		})
	})

	api := router.Group("/api/v1")
	{
		// Authentication routes
		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/register", handleRegister(authService))
			authRoutes.POST("/login", handleLogin(authService))
			authRoutes.GET("/me", middleware.AuthMiddleware(authService), handleWhoAmI())
		}

		// Resumable upload protocol
		resumable := api.Group("/resumable/files")
		resumable.Use(middleware.AuthMiddleware(authService))
		{
			resumable.POST("", handleCreateUpload(uploadService))
			resumable.PATCH("", handleWriteChunk(uploadService, cfg.Upload.MaxChunkSize))
			resumable.HEAD("", handleGetOffset(uploadService))
			resumable.POST("/confirm", handleConfirmUpload(uploadService))
			resumable.DELETE("/cancel", handleCancelUpload(uploadService))
			resumable.GET("", handleDownloadRange(uploadService))
		}

		// Finalized files
		fileRoutes := api.Group("/files")
		fileRoutes.Use(middleware.AuthMiddleware(authService))
		{
			fileRoutes.GET("", handleListFiles(uploadService))
			fileRoutes.DELETE("", handleDeleteFile(uploadService))
		}
	}

	return router
}

// requestLogger emits one structured event per request
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	}
}
