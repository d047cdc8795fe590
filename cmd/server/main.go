package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/cors"

	httpapi "equiprent-backend/internal/api/http"
	"equiprent-backend/internal/cache"
	"equiprent-backend/internal/config"
	"equiprent-backend/internal/logger"
	"equiprent-backend/internal/qrcode"
	"equiprent-backend/internal/repository"
	"equiprent-backend/internal/repository/memory"
	"equiprent-backend/internal/repository/postgres"
	"equiprent-backend/internal/security"
	"equiprent-backend/internal/service"
	"equiprent-backend/internal/storage"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	issueKey := flag.String("issue-api-key", "", "Issue an API key with this name, print it and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.InitializeWithFile(cfg.Log.Level, cfg.Log.Format, logger.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   true,
	})
	logger.Info("Starting Equipment Rental Backend...", "log_level", cfg.Log.Level, "log_format", cfg.Log.Format)
	logger.Info("Server configuration", "address", cfg.GetServerAddress())

	ctx := context.Background()

	// Initialize Repositories
	var store repository.Store
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("Using in-memory store, data is lost on restart")
		store = memory.NewStore()
	default:
		logger.Info("Database configuration", "host", cfg.Database.Host, "port", cfg.Database.Port, "database", cfg.Database.Database, "user", cfg.Database.User)
		db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
		if err != nil {
			logger.Error("Failed to connect to database", "error", err)
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		// Test database connection
		if err := db.PingContext(ctx); err != nil {
			logger.Error("Failed to ping database", "error", err)
			log.Fatalf("Failed to ping database: %v", err)
		}
		logger.Info("Database connection established")
		store = postgres.NewStore(db)
	}

	// Initialize Security
	tokenManager := security.NewTokenManager(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute)

	// Initialize Storage Service
	var files storage.Storage
	var localFiles storage.Storage
	switch cfg.Storage.Type {
	case "s3":
		logger.Info("Using S3 storage", "bucket", cfg.Storage.S3.Bucket, "region", cfg.Storage.S3.Region)
		s3Storage, err := storage.NewS3Storage(ctx, cfg.Storage.S3)
		if err != nil {
			logger.Error("Failed to initialize S3 storage", "error", err)
			log.Fatalf("Failed to initialize S3 storage: %v", err)
		}
		files = s3Storage
	default:
		logger.Info("Using mock storage (local filesystem)", "upload_dir", cfg.Storage.UploadDir)
		local, err := storage.NewLocalStorage(cfg.Storage.BaseURL, cfg.Storage.UploadDir)
		if err != nil {
			logger.Error("Failed to initialize mock storage", "error", err)
			log.Fatalf("Failed to initialize mock storage: %v", err)
		}
		files = local
		localFiles = local
	}

	// Availability cache degrades to a no-op without Redis
	availability, err := cache.Connect(ctx, cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, stock counts will not be cached", "addr", cfg.Redis.Addr, "error", err)
	}
	defer availability.Close()

	var logo []byte
	if cfg.Identifier.EmbedLogo && cfg.Identifier.LogoPath != "" {
		logo, err = os.ReadFile(cfg.Identifier.LogoPath)
		if err != nil {
			logger.Warn("Failed to read identifier logo, rendering without it", "path", cfg.Identifier.LogoPath, "error", err)
		}
	}

	// Initialize Services
	deps := service.Deps{
		Store:    store,
		Settings: service.SettingsFromConfig(cfg.Rental),
		Renderer: qrcode.NewGenerator(qrcode.Options{
			OutputSize: cfg.Identifier.OutputSize,
			EmbedLogo:  cfg.Identifier.EmbedLogo,
			LogoRatio:  cfg.Identifier.LogoRatio,
		}),
		Logo:       logo,
		Invoicing:  service.NewInvoiceBook(store),
		Activities: service.NewActivityLog(store),
		Publisher:  service.NewStoragePublisher(files),
		Cache:      availability,
	}
	authSvc := service.NewAuthService(deps, tokenManager)

	if *issueKey != "" {
		plaintext, key, err := authSvc.IssueAPIKey(ctx, *issueKey, "cli")
		if err != nil {
			log.Fatalf("Failed to issue API key: %v", err)
		}
		fmt.Printf("API key %q (id %d): %s\n", key.Name, key.ID, plaintext)
		return
	}

	projectSvc := service.NewProjectService(deps, service.NewAllocator(deps))
	router := httpapi.NewRouter(httpapi.Services{
		Equipment: service.NewEquipmentService(deps),
		Units:     service.NewUnitService(deps),
		Projects:  projectSvc,
		Returns:   service.NewReturnService(deps, projectSvc),
		Scans:     service.NewScanService(deps, projectSvc),
		Bulk:      service.NewBulkSerialService(deps),
		Reports:   service.NewReportService(deps),
		Auth:      authSvc,
	}, tokenManager, localFiles)

	handler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Api-Key", httpapi.RequestIDHeader},
		ExposedHeaders:   []string{httpapi.RequestIDHeader},
		AllowCredentials: true,
	}).Handler(router)

	srv := &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			log.Fatalf("Failed to serve: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	logger.Info("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", "error", err)
	}
	logger.Info("Server stopped")
}
