package services

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"

	schedDB "admin-task-scheduler/internal/scheduler/db"
)

// TriggerRegistry owns the mapping from task ID to a live, cancellable cron
// trigger. Exactly one live trigger exists per enabled task; the concrete
// timer mechanism stays behind this interface so the facade and executor
// never touch it directly.
type TriggerRegistry interface {
	Register(task *schedDB.ScheduledTask) error
	Unregister(taskID string)
	Rebuild(tasks []schedDB.ScheduledTask) int
	NextRun(taskID string) (time.Time, bool)
	Count() int
	Start()
	Shutdown() error
}

// TaskRunner is the callback a firing trigger invokes.
type TaskRunner interface {
	RunScheduled(taskID string)
}

// ValidateSchedule checks that expr is a parsable 5-field cron expression
// with at least one future fire time.
func ValidateSchedule(expr string) error {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	if sched.Next(time.Now()).IsZero() {
		return fmt.Errorf("%w: expression %q yields no future fire time", ErrInvalidSchedule, expr)
	}
	return nil
}

// CronTriggerRegistry implements TriggerRegistry on a gocron scheduler.
// The jobs map is the only shared mutable state in the process; every
// mutation holds the mutex so rapid update/pause/resume sequences cannot
// race registration of the same task ID.
type CronTriggerRegistry struct {
	scheduler gocron.Scheduler
	runner    TaskRunner

	mu   sync.Mutex
	jobs map[string]gocron.Job
}

func NewCronTriggerRegistry(runner TaskRunner) (*CronTriggerRegistry, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &CronTriggerRegistry{
		scheduler: s,
		runner:    runner,
		jobs:      make(map[string]gocron.Job),
	}, nil
}

func (r *CronTriggerRegistry) Start() {
	r.scheduler.Start()
}

// Shutdown cancels every live trigger. In-flight executions are cancelled
// cooperatively through the executor's context, not killed here.
func (r *CronTriggerRegistry) Shutdown() error {
	return r.scheduler.Shutdown()
}

// Register creates a live trigger for the task, replacing any previous one
// for the same ID. Registration is all-or-nothing: a bad expression leaves
// no partial trigger behind.
func (r *CronTriggerRegistry) Register(task *schedDB.ScheduledTask) error {
	if err := ValidateSchedule(task.Schedule); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, exists := r.jobs[task.ID]; exists {
		if err := r.scheduler.RemoveJob(old.ID()); err != nil {
			log.Printf("[TriggerRegistry] Error removing stale trigger for task %s: %v", task.ID, err)
		}
		delete(r.jobs, task.ID)
	}

	taskID := task.ID
	job, err := r.scheduler.NewJob(
		gocron.CronJob(task.Schedule, false),
		gocron.NewTask(func(id string) { r.runner.RunScheduled(id) }, taskID),
		gocron.WithName("task_"+taskID),
		gocron.WithTags("scheduled_task", "task_id:"+taskID),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	r.jobs[taskID] = job

	if next, errNext := job.NextRun(); errNext == nil {
		log.Printf("[TriggerRegistry] Registered task %s (%s) with schedule %q, next run %s",
			task.ID, task.Name, task.Schedule, next.Format(time.RFC3339))
	} else {
		log.Printf("[TriggerRegistry] Registered task %s (%s) with schedule %q", task.ID, task.Name, task.Schedule)
	}
	return nil
}

// Unregister cancels and removes the live trigger if present. Absence is
// not an error.
func (r *CronTriggerRegistry) Unregister(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, exists := r.jobs[taskID]
	if !exists {
		return
	}
	if err := r.scheduler.RemoveJob(job.ID()); err != nil {
		log.Printf("[TriggerRegistry] Error removing trigger for task %s: %v", taskID, err)
	}
	delete(r.jobs, taskID)
	log.Printf("[TriggerRegistry] Unregistered task %s", taskID)
}

// Rebuild drops every live trigger and registers the given tasks, normally
// the store's enabled set at startup. A task whose schedule no longer
// parses is skipped and reported, not fatal. Returns the number skipped.
func (r *CronTriggerRegistry) Rebuild(tasks []schedDB.ScheduledTask) int {
	r.mu.Lock()
	for id, job := range r.jobs {
		if err := r.scheduler.RemoveJob(job.ID()); err != nil {
			log.Printf("[TriggerRegistry] Error removing trigger for task %s during rebuild: %v", id, err)
		}
		delete(r.jobs, id)
	}
	r.mu.Unlock()

	skipped := 0
	for i := range tasks {
		task := tasks[i]
		if !task.Enabled {
			continue
		}
		if err := r.Register(&task); err != nil {
			log.Printf("[TriggerRegistry] Skipping task %s (%s) during rebuild: %v", task.ID, task.Name, err)
			skipped++
		}
	}
	log.Printf("[TriggerRegistry] Rebuild complete: %d live trigger(s), %d skipped", r.Count(), skipped)
	return skipped
}

// NextRun reports the next fire time of the live trigger for taskID.
func (r *CronTriggerRegistry) NextRun(taskID string) (time.Time, bool) {
	r.mu.Lock()
	job, exists := r.jobs[taskID]
	r.mu.Unlock()
	if !exists {
		return time.Time{}, false
	}
	next, err := job.NextRun()
	if err != nil {
		return time.Time{}, false
	}
	return next, true
}

func (r *CronTriggerRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
