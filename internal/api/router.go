package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/isdelr/winepair-be/internal/api/handlers"
	"github.com/isdelr/winepair-be/internal/auth"
	"github.com/isdelr/winepair-be/internal/monitoring"
	"github.com/isdelr/winepair-be/internal/services"
	"github.com/isdelr/winepair-be/internal/websocket"
)

// RouterDeps holds everything the HTTP API is built from.
type RouterDeps struct {
	AllowedOrigins []string
	Auth           *auth.Manager
	Backups        services.BackupServiceProvider
	Scheduler      handlers.SchedulerStatusProvider
	Events         services.EventServiceProvider
	Hub            *websocket.Hub
	DB             handlers.Pinger
	Storage        handlers.StorageStatsProvider // optional
	BackupDir      string
	DiskUsage      monitoring.UsageFunc // nil reads the host disk
}

// NewRouter creates and configures a new Chi router.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	// Basic middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	backupHandler := handlers.NewBackupHandler(deps.Backups, deps.Scheduler)
	eventHandler := handlers.NewEventHandler(deps.Events)
	wsHandler := handlers.NewWebSocketHandler(deps.Hub, deps.AllowedOrigins)
	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Storage, deps.BackupDir, deps.DiskUsage)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Get)

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.Middleware())

			r.Get("/ws", wsHandler.Serve)
			r.Get("/events", eventHandler.GetRecent)

			r.Route("/backups", func(r chi.Router) {
				r.Get("/", backupHandler.List)
				r.Get("/status", backupHandler.Status)
				r.Post("/run", backupHandler.Run)
				r.Post("/prune", backupHandler.Prune)
				r.Post("/{collection}/restore", backupHandler.Restore)
			})
		})
	})

	return r
}
