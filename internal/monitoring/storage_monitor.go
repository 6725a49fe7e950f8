package monitoring

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/isdelr/winepair-be/internal/models"
	"github.com/isdelr/winepair-be/internal/services"
)

const storageAlertCooldown = time.Hour

// UsageFunc reports disk usage for a path.
type UsageFunc func(ctx context.Context, path string) (*disk.UsageStat, error)

// ReadStorageStats measures the disk of the backup directory and the size of the backups in it.
// A nil usage function reads the host disk.
func ReadStorageStats(ctx context.Context, dir string, usage UsageFunc) (models.StorageStats, error) {
	if usage == nil {
		usage = disk.UsageWithContext
	}
	stats := models.StorageStats{Path: dir}

	// The backup directory is created lazily; measure its closest existing parent.
	target := dir
	for {
		if _, err := os.Stat(target); err == nil {
			break
		}
		parent := filepath.Dir(target)
		if parent == target {
			break
		}
		target = parent
	}

	u, err := usage(ctx, target)
	if err != nil {
		return stats, errors.Annotatef(err, "reading disk usage of %q", target)
	}
	stats.Total = u.Total
	stats.Free = u.Free
	stats.UsedPercent = u.UsedPercent

	size, err := directorySize(dir)
	if err != nil {
		log.Warn().Err(err).Str("path", dir).Msg("Could not calculate backup directory size")
	}
	stats.BackupBytes = size
	return stats, nil
}

func directorySize(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	return size, err
}

// StorageMonitor periodically checks the disk holding the backups and raises an alert
// when it fills up.
type StorageMonitor struct {
	dir         string
	warnPercent float64
	interval    time.Duration
	eventSvc    services.EventServiceProvider
	clock       clock.Clock
	usage       UsageFunc

	mu        sync.Mutex
	latest    *models.StorageStats
	lastAlert time.Time
}

// NewStorageMonitor creates a new StorageMonitor. A nil usage function reads the host disk.
func NewStorageMonitor(dir string, warnPercent float64, interval time.Duration, eventSvc services.EventServiceProvider, clk clock.Clock, usage UsageFunc) *StorageMonitor {
	return &StorageMonitor{
		dir:         dir,
		warnPercent: warnPercent,
		interval:    interval,
		eventSvc:    eventSvc,
		clock:       clk,
		usage:       usage,
	}
}

// Run checks the disk immediately and then every interval until ctx is cancelled.
func (m *StorageMonitor) Run(ctx context.Context) {
	log.Info().Str("path", m.dir).Msg("Starting storage monitor...")
	m.check(ctx)

	for {
		timer := m.clock.NewTimer(m.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("Stopping storage monitor.")
			return
		case <-timer.Chan():
			m.check(ctx)
		}
	}
}

// Latest returns the most recent measurement, if any.
func (m *StorageMonitor) Latest() (models.StorageStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return models.StorageStats{}, false
	}
	return *m.latest, true
}

func (m *StorageMonitor) check(ctx context.Context) {
	stats, err := ReadStorageStats(ctx, m.dir, m.usage)
	if err != nil {
		log.Warn().Err(err).Msg("Storage monitor: could not read disk usage")
		return
	}
	now := m.clock.Now().UTC()
	stats.CheckedAt = now

	m.mu.Lock()
	m.latest = &stats
	alert := m.warnPercent > 0 && stats.UsedPercent >= m.warnPercent &&
		(m.lastAlert.IsZero() || now.Sub(m.lastAlert) >= storageAlertCooldown)
	if alert {
		m.lastAlert = now
	}
	m.mu.Unlock()

	if !alert {
		return
	}
	msg := fmt.Sprintf("Backup disk usage is high (%.1f%% used, %d bytes free).", stats.UsedPercent, stats.Free)
	log.Warn().Float64("used_percent", stats.UsedPercent).Str("path", m.dir).Msg("Backup disk almost full")
	if m.eventSvc == nil {
		return
	}
	if err := m.eventSvc.CreateEvent(ctx, "storage.alert.disk", services.LevelWarn, msg, nil); err != nil {
		log.Warn().Err(err).Msg("Failed to record storage alert")
	}
}
