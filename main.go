package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog/log"

	"github.com/isdelr/winepair-be/internal/api"
	"github.com/isdelr/winepair-be/internal/auth"
	"github.com/isdelr/winepair-be/internal/config"
	"github.com/isdelr/winepair-be/internal/database"
	"github.com/isdelr/winepair-be/internal/logger"
	"github.com/isdelr/winepair-be/internal/monitoring"
	"github.com/isdelr/winepair-be/internal/services"
	"github.com/isdelr/winepair-be/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	authManager, err := auth.NewManager(cfg.JWTSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("JWT_SECRET must be set")
	}

	schedule, err := cfg.Backup.Schedule()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid backup schedule")
	}

	// Ensure the base directory for backups exists
	if err := os.MkdirAll(cfg.Backup.Dir, 0o755); err != nil {
		log.Fatal().Err(err).Str("path", cfg.Backup.Dir).Msg("Failed to create backup directory")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Set up database
	client, db, err := database.Connect(ctx, cfg.MongoURI, cfg.DatabaseName)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			log.Error().Err(err).Msg("Failed to disconnect from MongoDB")
		}
	}()
	store := database.NewMongoStore(db)

	// Set up WebSocket Hub
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := websocket.NewHub()
	go hub.Run(hubCtx)

	// Set up services
	eventService := services.NewEventService(db, hub, clock.WallClock)
	backupService := services.NewBackupService(store, eventService, clock.WallClock, services.BackupOptions{
		Dir:                cfg.Backup.Dir,
		Collections:        cfg.Backup.Collections,
		Retention:          cfg.Backup.Retention(),
		ClearBeforeRestore: cfg.Backup.ClearBeforeRestore,
	})

	// Set up and run the background storage monitor
	storageMonitor := monitoring.NewStorageMonitor(cfg.Backup.Dir, cfg.Backup.DiskWarnPercent, cfg.Backup.DiskCheckInterval, eventService, clock.WallClock, nil)
	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		storageMonitor.Run(monitorCtx)
	}()

	// Set up and run the backup scheduler
	scheduler := monitoring.NewScheduler(backupService, eventService, schedule, clock.WallClock)
	scheduler.Start(context.Background())

	if cfg.Backup.RunOnStart {
		go func() {
			if _, err := backupService.RunOnce(ctx); err != nil {
				log.Error().Err(err).Msg("Startup backup failed")
			}
		}()
	}

	// Set up router
	router := api.NewRouter(api.RouterDeps{
		AllowedOrigins: cfg.AllowedOrigins,
		Auth:           authManager,
		Backups:        backupService,
		Scheduler:      scheduler,
		Events:         eventService,
		Hub:            hub,
		DB:             store,
		Storage:        storageMonitor,
		BackupDir:      cfg.Backup.Dir,
	})

	// Set up server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info().Int("port", cfg.ServerPort).Strs("collections", cfg.Backup.Collections).Msg("Server starting")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("ListenAndServe failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	graceCtx, cancelGrace := context.WithTimeout(context.Background(), cfg.Backup.StopGrace)
	defer cancelGrace()
	if err := scheduler.Stop(graceCtx); err != nil {
		log.Warn().Err(err).Msg("Backup scheduler did not stop cleanly")
	}

	stopMonitor()
	<-monitorDone
	stopHub()

	log.Info().Msg("Server exiting")
}
