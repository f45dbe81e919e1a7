package db

import (
	"time"
)

// TaskType classifies what a scheduled task does. It is informational
// only; the scheduler treats every type identically.
type TaskType string

const (
	TaskTypeReport      TaskType = "report"
	TaskTypeBackup      TaskType = "backup"
	TaskTypeMaintenance TaskType = "maintenance"
	TaskTypeMonitoring  TaskType = "monitoring"
)

// Valid reports whether t is one of the known task types.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeReport, TaskTypeBackup, TaskTypeMaintenance, TaskTypeMonitoring:
		return true
	}
	return false
}

// ExecutionStatus is the lifecycle state of a single execution attempt.
type ExecutionStatus string

const (
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
)

// IsTerminal reports whether the status can no longer change.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionSuccess || s == ExecutionFailed
}

// TriggerMode records how an execution was started.
type TriggerMode string

const (
	TriggerScheduled TriggerMode = "scheduled"
	TriggerManual    TriggerMode = "manual"
)

const (
	DefaultMaxRetries        = 3
	DefaultRetryDelaySeconds = 30
)

// ScheduledTask is the persisted definition of a recurring job. The live
// cron trigger for an enabled task lives in the trigger registry, keyed by
// ID; the store row is the source of truth across restarts.
type ScheduledTask struct {
	ID                 string    `json:"id" gorm:"primaryKey;size:36"`
	Name               string    `json:"name" gorm:"size:255;not null;index"`
	Type               TaskType  `json:"type" gorm:"size:20;not null;index"`
	Schedule           string    `json:"schedule" gorm:"size:100;not null;comment:Standard cron expression"`
	Action             string    `json:"action" gorm:"type:json"` // opaque descriptor, forwarded to the action invoker
	Enabled            bool      `json:"enabled" gorm:"index"`
	MaxRetries         uint      `json:"max_retries" gorm:"default:3"`
	RetryDelaySeconds  uint      `json:"retry_delay_seconds" gorm:"default:30"`
	NotificationConfig string    `json:"notification_config" gorm:"type:json"`
	CreatedBy          string    `json:"created_by" gorm:"size:255"`
	CreatedAt          time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt          time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (ScheduledTask) TableName() string {
	return "scheduled_tasks"
}

// RetryDelay returns the configured delay between attempts.
func (t *ScheduledTask) RetryDelay() time.Duration {
	return time.Duration(t.RetryDelaySeconds) * time.Second
}

// Status maps the enabled flag onto the state names the console shows.
func (t *ScheduledTask) Status() string {
	if t.Enabled {
		return "active"
	}
	return "paused"
}

// ExecutionRecord is one attempt of one logical run. A run with retries
// produces several records sharing a RunID, ordered by AttemptNumber.
// TaskID is a weak reference: records outlive task deletion for audit.
// A record is finalized exactly once and never mutated afterwards.
type ExecutionRecord struct {
	ExecutionID   string          `json:"execution_id" gorm:"primaryKey;size:36"`
	RunID         string          `json:"run_id" gorm:"size:36;index"`
	TaskID        string          `json:"task_id" gorm:"size:36;not null;index"`
	StartTime     time.Time       `json:"start_time" gorm:"not null;index"`
	EndTime       *time.Time      `json:"end_time"`
	Status        ExecutionStatus `json:"status" gorm:"size:16;not null;index"`
	TriggerMode   TriggerMode     `json:"trigger_mode" gorm:"size:16;not null"`
	AttemptNumber uint            `json:"attempt_number" gorm:"not null"`
	Output        string          `json:"output" gorm:"type:text"`
	Error         string          `json:"error" gorm:"type:text"`
	DurationMs    int64           `json:"duration_ms"`
}

func (ExecutionRecord) TableName() string {
	return "execution_records"
}
