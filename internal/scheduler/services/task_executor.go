package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	schedDB "admin-task-scheduler/internal/scheduler/db"
	"admin-task-scheduler/internal/scheduler/events"
	"admin-task-scheduler/internal/scheduler/store"
)

// ActionInvoker performs the business effect named by a task's action
// descriptor. The scheduler never interprets the descriptor's contents.
type ActionInvoker interface {
	Invoke(ctx context.Context, action string) (output string, err error)
}

// NotificationSink receives terminal-outcome events.
type NotificationSink interface {
	Notify(ctx context.Context, payload events.TaskOutcomePayload) error
}

// TaskExecutor runs one logical execution of a task end to end: overlap
// guard, one execution record per attempt, bounded retry with a cancellable
// delay, and a notification on the terminal outcome.
//
// The in-flight set is the overlap guard: no two attempt sequences for the
// same task ID ever run concurrently. The set dies with the process, which
// is why startup reconciles stale running records before anything fires.
type TaskExecutor struct {
	store    *store.Store
	invoker  ActionInvoker
	notifier NotificationSink
	appCtx   context.Context

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewTaskExecutor(appCtx context.Context, st *store.Store, invoker ActionInvoker, notifier NotificationSink) *TaskExecutor {
	return &TaskExecutor{
		store:    st,
		invoker:  invoker,
		notifier: notifier,
		appCtx:   appCtx,
		inFlight: make(map[string]struct{}),
	}
}

func (e *TaskExecutor) tryAcquire(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, running := e.inFlight[taskID]; running {
		return false
	}
	e.inFlight[taskID] = struct{}{}
	return true
}

func (e *TaskExecutor) release(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, taskID)
}

// IsRunning reports whether an attempt sequence for the task is in flight.
func (e *TaskExecutor) IsRunning(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, running := e.inFlight[taskID]
	return running
}

// RunScheduled is the trigger callback. gocron invokes it on a dedicated
// goroutine per fire, so running the attempt sequence synchronously here
// never delays other tasks' triggers.
func (e *TaskExecutor) RunScheduled(taskID string) {
	task, err := e.store.GetTask(taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("[TaskExecutor] Trigger fired for task %s but it no longer exists", taskID)
		} else {
			log.Printf("[TaskExecutor] Error loading task %s for scheduled run: %v", taskID, err)
		}
		return
	}
	if !e.tryAcquire(taskID) {
		log.Printf("[TaskExecutor] Skipped scheduled run of task %s (%s): previous run still in flight", task.ID, task.Name)
		return
	}

	rec, err := e.beginAttempt(task, schedDB.TriggerScheduled, uuid.NewString(), 1)
	if err != nil {
		e.release(taskID)
		log.Printf("[TaskExecutor] Error starting scheduled run of task %s: %v", taskID, err)
		return
	}
	e.runAttempts(task, rec)
}

// ExecuteNow starts a manual run immediately, bypassing the cron schedule
// but not the overlap guard. It returns the first attempt's record as a
// polling handle; the attempt sequence continues asynchronously and its
// terminal outcome is observed through the execution history.
func (e *TaskExecutor) ExecuteNow(taskID string) (*schedDB.ExecutionRecord, error) {
	task, err := e.store.GetTask(taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	if !e.tryAcquire(taskID) {
		return nil, fmt.Errorf("%w: task %s", ErrAlreadyRunning, taskID)
	}

	rec, err := e.beginAttempt(task, schedDB.TriggerManual, uuid.NewString(), 1)
	if err != nil {
		e.release(taskID)
		return nil, err
	}

	handle := *rec
	go e.runAttempts(task, rec)
	return &handle, nil
}

func (e *TaskExecutor) beginAttempt(task *schedDB.ScheduledTask, mode schedDB.TriggerMode, runID string, attempt uint) (*schedDB.ExecutionRecord, error) {
	rec := &schedDB.ExecutionRecord{
		ExecutionID:   uuid.NewString(),
		RunID:         runID,
		TaskID:        task.ID,
		StartTime:     time.Now(),
		Status:        schedDB.ExecutionRunning,
		TriggerMode:   mode,
		AttemptNumber: attempt,
	}
	if err := e.store.AppendRecord(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// runAttempts drives one attempt sequence to a terminal state. The caller
// must already hold the overlap guard for task.ID; it is released here.
func (e *TaskExecutor) runAttempts(task *schedDB.ScheduledTask, rec *schedDB.ExecutionRecord) {
	defer e.release(task.ID)

	attempt := rec
	for {
		output, invokeErr := e.invoker.Invoke(e.appCtx, task.Action)
		end := time.Now()
		elapsed := end.Sub(attempt.StartTime).Milliseconds()

		if invokeErr == nil {
			if err := e.store.FinalizeRecord(attempt.ExecutionID, schedDB.ExecutionSuccess, output, "", end, elapsed); err != nil {
				log.Printf("[TaskExecutor] Error finalizing record %s: %v", attempt.ExecutionID, err)
			}
			log.Printf("[TaskExecutor] Task %s (%s) succeeded on attempt %d in %dms", task.ID, task.Name, attempt.AttemptNumber, elapsed)
			e.notifyOutcome(task, attempt, schedDB.ExecutionSuccess, output, "", end)
			return
		}

		wrapped := fmt.Errorf("%w: %v", ErrActionExecution, invokeErr)
		if err := e.store.FinalizeRecord(attempt.ExecutionID, schedDB.ExecutionFailed, output, wrapped.Error(), end, elapsed); err != nil {
			log.Printf("[TaskExecutor] Error finalizing record %s: %v", attempt.ExecutionID, err)
		}
		log.Printf("[TaskExecutor] Task %s (%s) attempt %d failed: %v", task.ID, task.Name, attempt.AttemptNumber, invokeErr)

		if attempt.AttemptNumber > task.MaxRetries {
			log.Printf("[TaskExecutor] Task %s (%s) exhausted %d attempt(s); it stays enabled for its next scheduled fire",
				task.ID, task.Name, attempt.AttemptNumber)
			e.notifyOutcome(task, attempt, schedDB.ExecutionFailed, output, wrapped.Error(), end)
			return
		}

		// Each attempt sequence waits out its retry delay on its own
		// goroutine; other tasks' triggers keep firing. Shutdown cancels
		// the wait, and the next attempt's record is never created, so
		// nothing is left stuck in running state.
		timer := time.NewTimer(task.RetryDelay())
		select {
		case <-e.appCtx.Done():
			timer.Stop()
			log.Printf("[TaskExecutor] Shutdown during retry wait for task %s; abandoning run %s after attempt %d",
				task.ID, attempt.RunID, attempt.AttemptNumber)
			return
		case <-timer.C:
		}

		next, err := e.beginAttempt(task, attempt.TriggerMode, attempt.RunID, attempt.AttemptNumber+1)
		if err != nil {
			log.Printf("[TaskExecutor] Error starting attempt %d for task %s: %v", attempt.AttemptNumber+1, task.ID, err)
			return
		}
		attempt = next
	}
}

// notificationPrefs is the small slice of the otherwise opaque notification
// config the executor understands. Failures notify by default; successes
// only when asked.
type notificationPrefs struct {
	OnSuccess bool `json:"on_success"`
	OnFailure bool `json:"on_failure"`
}

func (e *TaskExecutor) notifyOutcome(task *schedDB.ScheduledTask, attempt *schedDB.ExecutionRecord, status schedDB.ExecutionStatus, output, errMsg string, completedAt time.Time) {
	if e.notifier == nil {
		return
	}
	prefs := notificationPrefs{OnFailure: true}
	if task.NotificationConfig != "" {
		if err := json.Unmarshal([]byte(task.NotificationConfig), &prefs); err != nil {
			log.Printf("[TaskExecutor] Unreadable notification config for task %s, using defaults: %v", task.ID, err)
			prefs = notificationPrefs{OnFailure: true}
		}
	}
	if status == schedDB.ExecutionSuccess && !prefs.OnSuccess {
		return
	}
	if status == schedDB.ExecutionFailed && !prefs.OnFailure {
		return
	}

	payload := events.TaskOutcomePayload{
		TaskID:      task.ID,
		TaskName:    task.Name,
		TaskType:    string(task.Type),
		RunID:       attempt.RunID,
		Status:      string(status),
		TriggerMode: string(attempt.TriggerMode),
		Attempts:    attempt.AttemptNumber,
		Output:      output,
		Error:       errMsg,
		CompletedAt: completedAt,
	}
	if task.NotificationConfig != "" {
		payload.NotificationConfig = json.RawMessage(task.NotificationConfig)
	}
	if err := e.notifier.Notify(e.appCtx, payload); err != nil {
		log.Printf("[TaskExecutor] Error notifying outcome for task %s run %s: %v", task.ID, attempt.RunID, err)
	}
}
