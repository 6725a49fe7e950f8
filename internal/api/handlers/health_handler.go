package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/isdelr/winepair-be/internal/models"
	"github.com/isdelr/winepair-be/internal/monitoring"
)

const healthTimeout = 5 * time.Second

// Pinger checks that the database answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StorageStatsProvider returns the last disk measurement of the storage monitor.
type StorageStatsProvider interface {
	Latest() (models.StorageStats, bool)
}

// HealthHandler reports the state of the database and the backup disk.
type HealthHandler struct {
	db        Pinger
	storage   StorageStatsProvider
	backupDir string
	usage     monitoring.UsageFunc
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status   string               `json:"status"`
	Database string               `json:"database"`
	Storage  *models.StorageStats `json:"storage,omitempty"`
}

// NewHealthHandler creates a new HealthHandler. Without a storage provider, or before its first
// measurement, the disk is measured on each request.
func NewHealthHandler(db Pinger, storage StorageStatsProvider, backupDir string, usage monitoring.UsageFunc) *HealthHandler {
	return &HealthHandler{db: db, storage: storage, backupDir: backupDir, usage: usage}
}

// Get handles the health check request.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", Database: "ok"}
	status := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("Health check: database unreachable")
		resp.Status = "degraded"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}

	if stats, ok := h.storageStats(ctx); ok {
		resp.Storage = &stats
	}

	writeJSON(w, status, resp)
}

func (h *HealthHandler) storageStats(ctx context.Context) (models.StorageStats, bool) {
	if h.storage != nil {
		if stats, ok := h.storage.Latest(); ok {
			return stats, true
		}
	}
	stats, err := monitoring.ReadStorageStats(ctx, h.backupDir, h.usage)
	if err != nil {
		log.Warn().Err(err).Msg("Health check: disk usage unavailable")
		return models.StorageStats{}, false
	}
	return stats, true
}
