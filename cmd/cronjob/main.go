package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"equiprent-backend/internal/cache"
	"equiprent-backend/internal/config"
	"equiprent-backend/internal/jobs"
	"equiprent-backend/internal/logger"
	"equiprent-backend/internal/qrcode"
	"equiprent-backend/internal/repository/postgres"
	"equiprent-backend/internal/scheduler"
	"equiprent-backend/internal/service"
	"equiprent-backend/internal/storage"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	runOnce := flag.String("run-once", "", "Run a specific job once and exit (e.g., 'refresh-overdue', 'all')")
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
	logger.Info("Starting Equipment Rental Cronjob Runner...", "log_level", cfg.Log.Level)

	if cfg.Database.Driver == "memory" {
		log.Fatalf("The cronjob runner needs a shared database, driver %q is not supported", cfg.Database.Driver)
	}

	ctx := context.Background()

	// Initialize Database
	logger.Info("Connecting to database...", "host", cfg.Database.Host, "port", cfg.Database.Port)
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

	// Initialize Repositories
	store := postgres.NewStore(db)

	// Identifier images regenerated at night are published like those rendered by the API
	var files storage.Storage
	if cfg.Storage.Type == "s3" {
		files, err = storage.NewS3Storage(ctx, cfg.Storage.S3)
	} else {
		files, err = storage.NewLocalStorage(cfg.Storage.BaseURL, cfg.Storage.UploadDir)
	}
	if err != nil {
		logger.Error("Failed to initialize storage", "type", cfg.Storage.Type, "error", err)
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	availability, err := cache.Connect(ctx, cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, stock counts will not be cached", "addr", cfg.Redis.Addr, "error", err)
	}
	defer availability.Close()

	var logo []byte
	if cfg.Identifier.EmbedLogo && cfg.Identifier.LogoPath != "" {
		if logo, err = os.ReadFile(cfg.Identifier.LogoPath); err != nil {
			logger.Warn("Failed to read identifier logo, rendering without it", "path", cfg.Identifier.LogoPath, "error", err)
		}
	}

	// Initialize Services
	settings := service.SettingsFromConfig(cfg.Rental)
	deps := service.Deps{
		Store:    store,
		Settings: settings,
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

	jobServices := &jobs.Services{
		Projects:   service.NewProjectService(deps, service.NewAllocator(deps)),
		Units:      service.NewUnitService(deps),
		Equipment:  service.NewEquipmentService(deps),
		Activities: deps.Activities,
	}

	// Initialize Job Runner
	jobRunner := jobs.NewJobRunner(store, jobServices, settings)

	// Check if running a single job
	if *runOnce != "" {
		logger.Info("Running job once", "job", *runOnce)
		if err := runJobOnce(jobRunner, *runOnce); err != nil {
			logger.Error("Job execution failed", "job", *runOnce, "error", err)
			os.Exit(1)
		}
		logger.Info("Job execution completed", "job", *runOnce)
		return
	}

	// Initialize Scheduler
	cronScheduler := scheduler.NewScheduler(jobRunner, cfg.Scheduler)

	// Start scheduler
	cronScheduler.Start()
	logger.Info("Cronjob scheduler is running. Press Ctrl+C to stop.")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	logger.Info("Shutting down cronjob scheduler...")
	cronScheduler.Stop()
	logger.Info("Cronjob scheduler stopped. Goodbye!")
}

// runJobOnce runs a specific job once, or all of them for "all"
func runJobOnce(jobRunner *jobs.JobRunner, jobName string) error {
	if jobName == "all" {
		return jobRunner.RunAll()
	}
	err := jobRunner.Run(jobName)
	if errors.Is(err, jobs.ErrUnknownJob) {
		fmt.Printf("Available jobs:\n")
		for _, name := range jobRunner.Names() {
			fmt.Printf("  - %s\n", name)
		}
		fmt.Printf("  - all\n")
	}
	return err
}
