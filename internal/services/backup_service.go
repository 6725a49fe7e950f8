package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/rs/zerolog/log"

	"github.com/isdelr/winepair-be/internal/config"
	"github.com/isdelr/winepair-be/internal/models"
)

// DocumentStore is the database surface the backup service needs.
type DocumentStore interface {
	ListDocuments(ctx context.Context, collection string) ([]models.Document, error)
	DeleteAll(ctx context.Context, collection string) (int64, error)
	InsertMany(ctx context.Context, collection string, docs []models.Document) (int64, error)
}

// BackupServiceProvider defines the interface for backup services.
type BackupServiceProvider interface {
	RunOnce(ctx context.Context) (models.RunReport, error)
	Restore(ctx context.Context, collection, file string) (models.RestoreResult, error)
	Prune(ctx context.Context) (models.PruneReport, error)
	ListBackups(collection string) ([]models.BackupRecord, error)
}

// BackupOptions configures a BackupService.
type BackupOptions struct {
	Dir                string
	Collections        []string
	Retention          models.RetentionPolicy
	ClearBeforeRestore bool
}

// ExportErrorKind classifies why a collection could not be exported.
type ExportErrorKind string

const (
	ExportCollectionUnavailable ExportErrorKind = "collection_unavailable"
	ExportSerialization         ExportErrorKind = "serialization"
	ExportWrite                 ExportErrorKind = "write"
)

// ExportError is the failure of a single collection within a run.
type ExportError struct {
	Kind       ExportErrorKind
	Collection string
	Err        error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export of %q failed (%s): %v", e.Collection, e.Kind, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// BackupService provides business logic for collection backups.
type BackupService struct {
	store        DocumentStore
	eventService EventServiceProvider
	clock        clock.Clock
	opts         BackupOptions

	// mu serializes operations that create or remove backup files.
	mu sync.Mutex
}

// NewBackupService creates a new BackupService.
func NewBackupService(store DocumentStore, eventService EventServiceProvider, clk clock.Clock, opts BackupOptions) *BackupService {
	return &BackupService{
		store:        store,
		eventService: eventService,
		clock:        clk,
		opts:         opts,
	}
}

// RunOnce exports every configured collection and prunes the collections that got a new backup.
// Failures of single collections are recorded in the report; the returned error is reserved
// for failures that stop the whole run.
func (s *BackupService) RunOnce(ctx context.Context) (models.RunReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := models.RunReport{
		StartedAt: s.clock.Now().UTC(),
		Results:   make([]models.CollectionResult, 0, len(s.opts.Collections)),
		Pruned:    []models.BackupRecord{},
	}

	if err := os.MkdirAll(s.opts.Dir, 0o755); err != nil {
		return report, errors.Annotatef(err, "creating backup directory %q", s.opts.Dir)
	}

	var written []string
	for _, collection := range s.opts.Collections {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = s.clock.Now().UTC()
			return report, errors.Annotate(err, "backup run interrupted")
		}

		result := s.exportCollection(ctx, collection)
		report.Results = append(report.Results, result)
		if result.Status == models.ExportStatusWritten {
			written = append(written, collection)
		}
	}

	for _, collection := range written {
		removed, err := s.pruneCollection(ctx, collection)
		if err != nil {
			log.Warn().Err(err).Str("collection", collection).Msg("Failed to apply retention")
			continue
		}
		report.Pruned = append(report.Pruned, removed...)
	}

	report.FinishedAt = s.clock.Now().UTC()
	log.Info().
		Int("collections", len(report.Results)).
		Int("failed", len(report.Failed())).
		Int("pruned", len(report.Pruned)).
		Dur("took", report.FinishedAt.Sub(report.StartedAt)).
		Msg("Backup run finished")
	return report, nil
}

func (s *BackupService) exportCollection(ctx context.Context, collection string) models.CollectionResult {
	result := models.CollectionResult{Collection: collection}

	record, err := s.writeBackup(ctx, collection)
	switch {
	case err != nil:
		var exportErr *ExportError
		if !errors.As(err, &exportErr) {
			exportErr = &ExportError{Kind: ExportWrite, Collection: collection, Err: err}
		}
		result.Status = models.ExportStatusFailed
		result.ErrorKind = string(exportErr.Kind)
		result.Error = exportErr.Err.Error()

		log.Error().Err(exportErr.Err).Str("collection", collection).Str("kind", string(exportErr.Kind)).Msg("Failed to back up collection")
		msg := fmt.Sprintf("Backup of collection '%s' failed: %v", collection, exportErr.Err)
		emitEvent(ctx, s.eventService, "backup.fail", LevelError, msg, &collection)
	case record == nil:
		result.Status = models.ExportStatusEmpty
		log.Info().Str("collection", collection).Msg("Collection is empty, no backup written")
	default:
		result.Status = models.ExportStatusWritten
		result.Record = record
		log.Info().Str("collection", collection).Str("file", record.FileName).Int("documents", record.DocumentCount).Msg("Collection backed up")
		msg := fmt.Sprintf("Backup '%s' created for collection '%s' (%d documents).", record.FileName, collection, record.DocumentCount)
		emitEvent(ctx, s.eventService, "backup.create", LevelInfo, msg, &collection)
	}
	return result
}

// writeBackup exports one collection. A nil record without error means the collection was empty.
func (s *BackupService) writeBackup(ctx context.Context, collection string) (*models.BackupRecord, error) {
	docs, err := s.store.ListDocuments(ctx, collection)
	if err != nil {
		return nil, &ExportError{Kind: ExportCollectionUnavailable, Collection: collection, Err: err}
	}
	if len(docs) == 0 {
		return nil, nil
	}
	docs = stripInternalID(docs)

	data, err := encodeDocuments(docs)
	if err != nil {
		return nil, &ExportError{Kind: ExportSerialization, Collection: collection, Err: err}
	}

	createdAt := s.clock.Now().UTC()
	dir := s.collectionDir(collection)
	name := backupFileName(collection, createdAt)
	path, err := writeFileAtomic(dir, name, data)
	if err != nil {
		return nil, &ExportError{Kind: ExportWrite, Collection: collection, Err: err}
	}

	return &models.BackupRecord{
		Collection:    collection,
		FileName:      name,
		Path:          path,
		DocumentCount: len(docs),
		Size:          int64(len(data)),
		CreatedAt:     createdAt.Truncate(timestampPrecision),
	}, nil
}

// Restore replaces the content of a collection with the documents of a backup file.
// file is either a bare file name inside the collection's backup directory or a path.
func (s *BackupService) Restore(ctx context.Context, collection, file string) (models.RestoreResult, error) {
	result := models.RestoreResult{Collection: collection}
	if !config.ValidCollectionName(collection) {
		return result, errors.NotValidf("collection name %q", collection)
	}
	if file == "" {
		return result, errors.NotValidf("empty backup file name")
	}

	path := s.resolveBackupPath(collection, file)
	result.FileName = filepath.Base(path)

	docs, err := readBackupFile(path)
	if err != nil {
		return result, errors.Trace(err)
	}

	if s.opts.ClearBeforeRestore {
		deleted, err := s.store.DeleteAll(ctx, collection)
		if err != nil {
			return result, errors.Annotatef(err, "clearing %q before restore", collection)
		}
		result.Deleted = deleted
	}

	inserted, err := s.store.InsertMany(ctx, collection, docs)
	if err != nil {
		return result, errors.Annotatef(err, "restoring %q", collection)
	}
	result.Inserted = inserted

	log.Info().Str("collection", collection).Str("file", result.FileName).Int64("documents", inserted).Msg("Collection restored")
	msg := fmt.Sprintf("Collection '%s' restored from backup '%s' (%d documents).", collection, result.FileName, inserted)
	emitEvent(ctx, s.eventService, "backup.restore", LevelWarn, msg, &collection)
	return result, nil
}

// Prune applies the retention policy to every collection present in the backup directory.
func (s *BackupService) Prune(ctx context.Context) (models.PruneReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := models.PruneReport{Removed: []models.BackupRecord{}}
	collections, err := s.backupCollections()
	if err != nil {
		return report, errors.Trace(err)
	}

	for _, collection := range collections {
		if err := ctx.Err(); err != nil {
			return report, errors.Annotate(err, "prune interrupted")
		}
		removed, err := s.pruneCollection(ctx, collection)
		if err != nil {
			return report, errors.Trace(err)
		}
		report.Removed = append(report.Removed, removed...)
	}
	return report, nil
}

// ListBackups returns the backups of a collection, or of all collections when collection is empty,
// newest first.
func (s *BackupService) ListBackups(collection string) ([]models.BackupRecord, error) {
	if collection != "" {
		if !config.ValidCollectionName(collection) {
			return nil, errors.NotValidf("collection name %q", collection)
		}
		records, err := s.listRecords(collection, true)
		return records, errors.Trace(err)
	}

	collections, err := s.backupCollections()
	if err != nil {
		return nil, errors.Trace(err)
	}
	records := []models.BackupRecord{}
	for _, name := range collections {
		found, err := s.listRecords(name, true)
		if err != nil {
			return nil, errors.Trace(err)
		}
		records = append(records, found...)
	}
	sortNewestFirst(records)
	return records, nil
}
