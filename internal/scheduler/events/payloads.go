package events

import (
	"encoding/json"
	"time"
)

// TaskOutcomePayload is published to Kafka when an attempt sequence reaches
// a terminal state. NotificationConfig is the task's config forwarded
// verbatim; downstream consumers interpret it, the scheduler does not.
type TaskOutcomePayload struct {
	TaskID             string          `json:"task_id"`
	TaskName           string          `json:"task_name"`
	TaskType           string          `json:"task_type"`
	RunID              string          `json:"run_id"`
	Status             string          `json:"status"`
	TriggerMode        string          `json:"trigger_mode"`
	Attempts           uint            `json:"attempts"`
	Output             string          `json:"output,omitempty"`
	Error              string          `json:"error,omitempty"`
	NotificationConfig json.RawMessage `json:"notification_config,omitempty"`
	CompletedAt        time.Time       `json:"completed_at"`
}
