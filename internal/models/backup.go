package models

import "time"

// Document is a single record of a collection, as exported to or imported from a backup file.
// Values are JSON-compatible; the database-internal "_id" field is never present.
type Document map[string]any

// BackupRecord describes one snapshot file of a collection.
type BackupRecord struct {
	Collection    string    `json:"collection"`
	FileName      string    `json:"fileName"`
	Path          string    `json:"-"` // Internal use, not exposed to client
	DocumentCount int       `json:"documentCount"`
	Size          int64     `json:"size"`
	CreatedAt     time.Time `json:"createdAt"`
}

// RetentionPolicy controls which backups of a collection survive a prune.
type RetentionPolicy struct {
	KeepLast int           `json:"keepLast"` // 0 keeps any number
	MaxAge   time.Duration `json:"maxAge"`   // 0 disables the age rule
	MinKeep  int           `json:"minKeep"`  // newest backups the age rule never removes
}

// Collection export outcomes.
const (
	ExportStatusWritten = "written"
	ExportStatusEmpty   = "empty"
	ExportStatusFailed  = "failed"
)

// CollectionResult is the outcome of exporting a single collection during a run.
type CollectionResult struct {
	Collection string        `json:"collection"`
	Status     string        `json:"status"`
	Record     *BackupRecord `json:"record,omitempty"`
	ErrorKind  string        `json:"errorKind,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// RunReport summarizes one export run over all configured collections.
type RunReport struct {
	StartedAt  time.Time          `json:"startedAt"`
	FinishedAt time.Time          `json:"finishedAt"`
	Results    []CollectionResult `json:"results"`
	Pruned     []BackupRecord     `json:"pruned"`
}

// Failed returns the results of collections that could not be exported.
func (r RunReport) Failed() []CollectionResult {
	var failed []CollectionResult
	for _, res := range r.Results {
		if res.Status == ExportStatusFailed {
			failed = append(failed, res)
		}
	}
	return failed
}

// PruneReport lists the backups removed by a prune.
type PruneReport struct {
	Removed []BackupRecord `json:"removed"`
}

// RestoreResult describes a completed restore.
type RestoreResult struct {
	Collection string `json:"collection"`
	FileName   string `json:"fileName"`
	Deleted    int64  `json:"deleted"`
	Inserted   int64  `json:"inserted"`
}
