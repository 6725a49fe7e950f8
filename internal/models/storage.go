package models

import "time"

// StorageStats describes the disk holding the backup directory.
type StorageStats struct {
	Path        string    `json:"path"`
	Total       uint64    `json:"total"`
	Free        uint64    `json:"free"`
	UsedPercent float64   `json:"usedPercent"`
	BackupBytes int64     `json:"backupBytes"`
	CheckedAt   time.Time `json:"checkedAt"`
}
