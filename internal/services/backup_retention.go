package services

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog/log"

	"github.com/isdelr/winepair-be/internal/models"
)

// selectExpired returns the backups a retention policy removes. records must be sorted newest first.
func selectExpired(records []models.BackupRecord, policy models.RetentionPolicy, now time.Time) []models.BackupRecord {
	var expired []models.BackupRecord
	for i, record := range records {
		if policy.KeepLast > 0 && i >= policy.KeepLast {
			expired = append(expired, record)
			continue
		}
		if policy.MaxAge > 0 && i >= policy.MinKeep && now.Sub(record.CreatedAt) > policy.MaxAge {
			expired = append(expired, record)
		}
	}
	return expired
}

// pruneCollection deletes the expired backups of one collection, oldest first.
func (s *BackupService) pruneCollection(ctx context.Context, collection string) ([]models.BackupRecord, error) {
	records, err := s.listRecords(collection, false)
	if err != nil {
		return nil, errors.Trace(err)
	}

	expired := selectExpired(records, s.opts.Retention, s.clock.Now().UTC())
	removed := make([]models.BackupRecord, 0, len(expired))
	for i := len(expired) - 1; i >= 0; i-- {
		record := expired[i]
		if err := os.Remove(record.Path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", record.Path).Msg("Could not delete expired backup")
			continue
		}
		removed = append(removed, record)
	}

	if len(removed) > 0 {
		log.Info().Str("collection", collection).Int("removed", len(removed)).Msg("Pruned old backups")
		msg := fmt.Sprintf("Removed %d old backup(s) of collection '%s'.", len(removed), collection)
		emitEvent(ctx, s.eventService, "backup.prune", LevelInfo, msg, &collection)
	}
	return removed, nil
}
