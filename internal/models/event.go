package models

import "time"

// Event represents a loggable backup action or alert.
type Event struct {
	ID         string    `json:"id" bson:"id"`
	Type       string    `json:"type" bson:"type"`   // e.g., "backup.create", "backup.restore"
	Level      string    `json:"level" bson:"level"` // e.g., "info", "warn", "error"
	Message    string    `json:"message" bson:"message"`
	Collection *string   `json:"collection,omitempty" bson:"collection,omitempty"` // Nullable for system-wide events
	CreatedAt  time.Time `json:"createdAt" bson:"created_at"`
}
