package handlers

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/isdelr/winepair-be/internal/models"
	"github.com/isdelr/winepair-be/internal/services"
)

// SchedulerStatusProvider reports the state of the backup scheduler.
type SchedulerStatusProvider interface {
	Status() models.SchedulerStatus
}

// BackupHandler handles HTTP requests related to backups.
type BackupHandler struct {
	service   services.BackupServiceProvider
	scheduler SchedulerStatusProvider
}

// NewBackupHandler creates a new BackupHandler.
func NewBackupHandler(service services.BackupServiceProvider, scheduler SchedulerStatusProvider) *BackupHandler {
	return &BackupHandler{service: service, scheduler: scheduler}
}

// RestoreBackupPayload is the expected JSON body for restoring a collection.
type RestoreBackupPayload struct {
	File string `json:"file"`
}

// List handles the request to list backups, optionally of a single collection.
func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	collection := r.URL.Query().Get("collection")
	records, err := h.service.ListBackups(collection)
	if err != nil {
		log.Error().Err(err).Str("collection", collection).Msg("Failed to list backups")
		http.Error(w, "Failed to list backups: "+err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// Run handles the request to run a backup immediately.
// The run outlives a client disconnect so no collection is left half exported.
func (h *BackupHandler) Run(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.RunOnce(context.WithoutCancel(r.Context()))
	if err != nil {
		log.Error().Err(err).Msg("Manual backup run failed")
		http.Error(w, "Backup run failed: "+err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Prune handles the request to apply the retention policy now.
func (h *BackupHandler) Prune(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Prune(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Manual prune failed")
		http.Error(w, "Prune failed: "+err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Status handles the request for the scheduler status.
func (h *BackupHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

// Restore handles the request to restore a collection from one of its backups.
func (h *BackupHandler) Restore(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")

	var payload RestoreBackupPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if payload.File == "" {
		http.Error(w, "Backup file is required", http.StatusBadRequest)
		return
	}
	// Only files inside the backup directory may be restored over HTTP.
	if filepath.Base(payload.File) != payload.File || payload.File == "." || payload.File == ".." {
		http.Error(w, "Backup file must be a plain file name", http.StatusBadRequest)
		return
	}

	result, err := h.service.Restore(r.Context(), collection, payload.File)
	if err != nil {
		log.Error().Err(err).Str("collection", collection).Str("file", payload.File).Msg("Failed to restore collection")
		http.Error(w, "Failed to restore backup: "+err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}
