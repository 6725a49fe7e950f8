package models

import "time"

// Scheduler states.
const (
	SchedulerIdle    = "idle"
	SchedulerRunning = "running"
)

// SchedulerStatus is a point-in-time view of the periodic backup scheduler.
type SchedulerStatus struct {
	State        string     `json:"state"`
	Exporting    bool       `json:"exporting"`
	Cycles       int        `json:"cycles"`
	FailedCycles int        `json:"failedCycles"`
	SkippedTicks int        `json:"skippedTicks"`
	LastRunAt    *time.Time `json:"lastRunAt"`
	NextRunAt    *time.Time `json:"nextRunAt"`
}
