package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	schedDB "admin-task-scheduler/internal/scheduler/db"
	"admin-task-scheduler/internal/scheduler/store"
	"admin-task-scheduler/pkg/validation"
)

// actionSchema is the structural contract every action descriptor must
// meet before a task is persisted. The invoker dispatches on "operation";
// everything else in the descriptor is opaque to the scheduler.
const actionSchema = `{
	"type": "object",
	"required": ["operation"],
	"properties": {
		"operation": {"type": "string", "minLength": 1}
	}
}`

// CreateTaskInput carries the fields of createTask. Pointer fields fall
// back to defaults when nil.
type CreateTaskInput struct {
	Name               string
	Type               schedDB.TaskType
	Schedule           string
	Action             string
	Enabled            *bool
	MaxRetries         *uint
	RetryDelaySeconds  *uint
	NotificationConfig string
	CreatedBy          string
}

// UpdateTaskInput carries the partial fields of updateTask; nil fields are
// left untouched.
type UpdateTaskInput struct {
	Name               *string
	Type               *schedDB.TaskType
	Schedule           *string
	Action             *string
	Enabled            *bool
	MaxRetries         *uint
	RetryDelaySeconds  *uint
	NotificationConfig *string
}

// TaskView is a ScheduledTask enriched with live trigger state for API
// responses. NextRun is reported from the registry, never stored.
type TaskView struct {
	schedDB.ScheduledTask
	Status  string     `json:"status"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

// SchedulerService is the orchestration surface over the task store, the
// trigger registry and the executor. Every state transition for one task
// (create/update/toggle/delete) runs under a per-task mutex held across the
// store mutation and the registry mutation, so the store<->registry
// invariant survives rapid concurrent transitions on the same ID.
type SchedulerService struct {
	store    *store.Store
	registry TriggerRegistry
	executor *TaskExecutor

	locks sync.Map // task ID -> *sync.Mutex
}

func NewSchedulerService(st *store.Store, registry TriggerRegistry, executor *TaskExecutor) *SchedulerService {
	return &SchedulerService{store: st, registry: registry, executor: executor}
}

// Start reconciles stale running records, starts the trigger clock and
// rebuilds the registry from the store's enabled tasks.
func (s *SchedulerService) Start() error {
	log.Println("[Scheduler] Starting scheduler service...")
	if _, err := s.store.MarkInterruptedRuns(); err != nil {
		return err
	}
	s.registry.Start()
	if err := s.Rebuild(); err != nil {
		return err
	}
	log.Println("[Scheduler] Scheduler service started")
	return nil
}

// Stop cancels every live trigger.
func (s *SchedulerService) Stop() {
	log.Println("[Scheduler] Stopping scheduler service...")
	if err := s.registry.Shutdown(); err != nil {
		log.Printf("[Scheduler] Error shutting down trigger registry: %v", err)
	} else {
		log.Println("[Scheduler] Trigger registry shut down")
	}
}

// Rebuild re-registers a live trigger for every enabled task in the store.
// Tasks whose stored schedule no longer parses are skipped and logged.
func (s *SchedulerService) Rebuild() error {
	tasks, err := s.store.ListEnabledTasks()
	if err != nil {
		return err
	}
	s.registry.Rebuild(tasks)
	return nil
}

func (s *SchedulerService) lockTask(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func validateAction(action string) error {
	if strings.TrimSpace(action) == "" {
		return fmt.Errorf("%w: action descriptor is required", ErrValidation)
	}
	if err := validation.ValidateJSONWithSchema(actionSchema, action); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func validateNotificationConfig(config string) error {
	if config == "" {
		return nil
	}
	if !json.Valid([]byte(config)) {
		return fmt.Errorf("%w: notification config must be valid JSON", ErrValidation)
	}
	return nil
}

// CreateTask validates, persists and (when enabled) registers a new task.
// An invalid schedule rejects the create entirely; nothing is persisted.
func (s *SchedulerService) CreateTask(in CreateTaskInput) (*TaskView, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown task type %q", ErrValidation, in.Type)
	}
	if err := validateAction(in.Action); err != nil {
		return nil, err
	}
	if err := validateNotificationConfig(in.NotificationConfig); err != nil {
		return nil, err
	}
	if err := ValidateSchedule(in.Schedule); err != nil {
		return nil, err
	}

	task := &schedDB.ScheduledTask{
		ID:                 uuid.NewString(),
		Name:               in.Name,
		Type:               in.Type,
		Schedule:           in.Schedule,
		Action:             in.Action,
		Enabled:            true,
		MaxRetries:         schedDB.DefaultMaxRetries,
		RetryDelaySeconds:  schedDB.DefaultRetryDelaySeconds,
		NotificationConfig: in.NotificationConfig,
		CreatedBy:          in.CreatedBy,
	}
	if in.Enabled != nil {
		task.Enabled = *in.Enabled
	}
	if in.MaxRetries != nil {
		task.MaxRetries = *in.MaxRetries
	}
	if in.RetryDelaySeconds != nil && *in.RetryDelaySeconds > 0 {
		task.RetryDelaySeconds = *in.RetryDelaySeconds
	}

	mu := s.lockTask(task.ID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.store.CreateTask(task); err != nil {
		return nil, err
	}
	if task.Enabled {
		if err := s.registry.Register(task); err != nil {
			// Schedule was validated above, so this is unexpected. Keep the
			// create atomic: no task row without its trigger.
			if delErr := s.store.DeleteTask(task.ID); delErr != nil {
				log.Printf("[Scheduler] Error rolling back task %s after registration failure: %v", task.ID, delErr)
			}
			return nil, err
		}
	}
	log.Printf("[Scheduler] Created task %s (%s) type=%s schedule=%q enabled=%t", task.ID, task.Name, task.Type, task.Schedule, task.Enabled)
	return s.view(task), nil
}

func (s *SchedulerService) GetTask(id string) (*TaskView, error) {
	task, err := s.store.GetTask(id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return s.view(task), nil
}

func (s *SchedulerService) ListTasks(filter store.TaskFilter) ([]TaskView, error) {
	tasks, err := s.store.ListTasks(filter)
	if err != nil {
		return nil, err
	}
	views := make([]TaskView, 0, len(tasks))
	for i := range tasks {
		views = append(views, *s.view(&tasks[i]))
	}
	return views, nil
}

// UpdateTask applies a partial update. From the caller's perspective the
// store and the registry move together: on any failure the previous
// definition and its trigger are restored.
func (s *SchedulerService) UpdateTask(id string, in UpdateTaskInput) (*TaskView, error) {
	mu := s.lockTask(id)
	mu.Lock()
	defer mu.Unlock()

	task, err := s.store.GetTask(id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	prev := *task

	if in.Name != nil {
		if strings.TrimSpace(*in.Name) == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", ErrValidation)
		}
		task.Name = *in.Name
	}
	if in.Type != nil {
		if !in.Type.Valid() {
			return nil, fmt.Errorf("%w: unknown task type %q", ErrValidation, *in.Type)
		}
		task.Type = *in.Type
	}
	if in.Action != nil {
		if err := validateAction(*in.Action); err != nil {
			return nil, err
		}
		task.Action = *in.Action
	}
	if in.NotificationConfig != nil {
		if err := validateNotificationConfig(*in.NotificationConfig); err != nil {
			return nil, err
		}
		task.NotificationConfig = *in.NotificationConfig
	}
	if in.Schedule != nil {
		if err := ValidateSchedule(*in.Schedule); err != nil {
			return nil, err
		}
		task.Schedule = *in.Schedule
	}
	if in.Enabled != nil {
		task.Enabled = *in.Enabled
	}
	if in.MaxRetries != nil {
		task.MaxRetries = *in.MaxRetries
	}
	if in.RetryDelaySeconds != nil {
		if *in.RetryDelaySeconds == 0 {
			return nil, fmt.Errorf("%w: retry delay must be positive", ErrValidation)
		}
		task.RetryDelaySeconds = *in.RetryDelaySeconds
	}

	s.registry.Unregister(id)
	if err := s.store.UpdateTask(task); err != nil {
		if prev.Enabled {
			if regErr := s.registry.Register(&prev); regErr != nil {
				log.Printf("[Scheduler] Error restoring trigger for task %s after failed update: %v", id, regErr)
			}
		}
		return nil, err
	}
	if task.Enabled {
		if err := s.registry.Register(task); err != nil {
			if storeErr := s.store.UpdateTask(&prev); storeErr != nil {
				log.Printf("[Scheduler] Error restoring task %s after failed registration: %v", id, storeErr)
			}
			if prev.Enabled {
				if regErr := s.registry.Register(&prev); regErr != nil {
					log.Printf("[Scheduler] Error restoring trigger for task %s after failed registration: %v", id, regErr)
				}
			}
			return nil, err
		}
	}
	log.Printf("[Scheduler] Updated task %s (%s)", task.ID, task.Name)
	return s.view(task), nil
}

// DeleteTask cancels the live trigger and removes the definition. The
// task's execution history is retained for audit.
func (s *SchedulerService) DeleteTask(id string) error {
	mu := s.lockTask(id)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.store.GetTask(id); err != nil {
		return mapNotFound(err)
	}
	s.registry.Unregister(id)
	if err := s.store.DeleteTask(id); err != nil {
		return mapNotFound(err)
	}
	log.Printf("[Scheduler] Deleted task %s (execution history retained)", id)
	return nil
}

// Toggle pauses or resumes a task. Pausing removes the live trigger but
// does not cancel an in-flight execution; resuming registers a trigger from
// the stored schedule. Both are idempotent.
func (s *SchedulerService) Toggle(id, action string) (*TaskView, error) {
	if action != "pause" && action != "resume" {
		return nil, fmt.Errorf("%w: toggle action must be \"pause\" or \"resume\", got %q", ErrValidation, action)
	}

	mu := s.lockTask(id)
	mu.Lock()
	defer mu.Unlock()

	task, err := s.store.GetTask(id)
	if err != nil {
		return nil, mapNotFound(err)
	}

	switch action {
	case "pause":
		if task.Enabled {
			s.registry.Unregister(id)
			task.Enabled = false
			if err := s.store.UpdateTask(task); err != nil {
				task.Enabled = true
				if regErr := s.registry.Register(task); regErr != nil {
					log.Printf("[Scheduler] Error restoring trigger for task %s after failed pause: %v", id, regErr)
				}
				return nil, err
			}
			log.Printf("[Scheduler] Paused task %s (%s)", task.ID, task.Name)
		}
	case "resume":
		if !task.Enabled {
			task.Enabled = true
			if err := s.store.UpdateTask(task); err != nil {
				return nil, err
			}
			if err := s.registry.Register(task); err != nil {
				task.Enabled = false
				if storeErr := s.store.UpdateTask(task); storeErr != nil {
					log.Printf("[Scheduler] Error restoring task %s after failed resume: %v", id, storeErr)
				}
				return nil, err
			}
			log.Printf("[Scheduler] Resumed task %s (%s)", task.ID, task.Name)
		}
	}
	return s.view(task), nil
}

// ExecuteNow runs the task immediately, subject to the overlap guard. The
// returned record is the first attempt's handle; poll the history for the
// terminal outcome.
func (s *SchedulerService) ExecuteNow(id string) (*schedDB.ExecutionRecord, error) {
	return s.executor.ExecuteNow(id)
}

// GetHistory returns execution records for a task. Records survive task
// deletion, so a deleted task with prior runs still answers; only an ID
// with no task and no history is a not-found.
func (s *SchedulerService) GetHistory(id string, filter store.HistoryFilter) ([]schedDB.ExecutionRecord, error) {
	if _, err := s.store.GetTask(id); err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		has, histErr := s.store.HasHistory(id)
		if histErr != nil {
			return nil, histErr
		}
		if !has {
			return nil, ErrTaskNotFound
		}
	}
	return s.store.ListHistory(id, filter)
}

// GetStatistics aggregates store counts with the live trigger count.
func (s *SchedulerService) GetStatistics() (*store.Statistics, error) {
	stats, err := s.store.Stats()
	if err != nil {
		return nil, err
	}
	stats.LiveTriggerCount = s.registry.Count()
	return stats, nil
}

func (s *SchedulerService) view(task *schedDB.ScheduledTask) *TaskView {
	v := &TaskView{ScheduledTask: *task, Status: task.Status()}
	if next, ok := s.registry.NextRun(task.ID); ok {
		v.NextRun = &next
	}
	return v
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrTaskNotFound
	}
	return err
}
