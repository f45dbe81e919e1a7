package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	schedDB "admin-task-scheduler/internal/scheduler/db"
	"admin-task-scheduler/internal/scheduler/store"
)

func setupScheduler(t *testing.T, inv ActionInvoker) (*SchedulerService, *store.Store, *CronTriggerRegistry) {
	st := setupServicesStore(t)
	if inv == nil {
		inv = invokerFunc(func(ctx context.Context, action string) (string, error) {
			return "ok", nil
		})
	}
	executor := NewTaskExecutor(context.Background(), st, inv, nil)
	registry, err := NewCronTriggerRegistry(executor)
	if err != nil {
		t.Fatalf("Failed to create trigger registry: %v", err)
	}
	svc := NewSchedulerService(st, registry, executor)
	if err := svc.Start(); err != nil {
		t.Fatalf("Failed to start scheduler service: %v", err)
	}
	t.Cleanup(svc.Stop)
	return svc, st, registry
}

func createInput(name string) CreateTaskInput {
	return CreateTaskInput{
		Name:     name,
		Type:     schedDB.TaskTypeReport,
		Schedule: "0 6 * * 1",
		Action:   `{"operation":"echo","params":{"report":"weekly"}}`,
	}
}

func TestCreateTaskRegistersTrigger(t *testing.T) {
	svc, st, registry := setupScheduler(t, nil)

	view, err := svc.CreateTask(createInput("weekly report"))
	assert.NoError(t, err)
	assert.NotEmpty(t, view.ID)
	assert.Equal(t, "active", view.Status)
	assert.True(t, view.Enabled)
	assert.Equal(t, uint(schedDB.DefaultMaxRetries), view.MaxRetries)
	assert.Equal(t, uint(schedDB.DefaultRetryDelaySeconds), view.RetryDelaySeconds)
	assert.NotNil(t, view.NextRun)

	assert.Equal(t, 1, registry.Count())
	stored, err := st.GetTask(view.ID)
	assert.NoError(t, err)
	assert.True(t, stored.Enabled)
}

func TestCreateDisabledTaskHasNoTrigger(t *testing.T) {
	svc, _, registry := setupScheduler(t, nil)

	enabled := false
	in := createInput("paused from birth")
	in.Enabled = &enabled

	view, err := svc.CreateTask(in)
	assert.NoError(t, err)
	assert.Equal(t, "paused", view.Status)
	assert.Nil(t, view.NextRun)
	assert.Equal(t, 0, registry.Count())
}

func TestCreateTaskInvalidScheduleRejectsEntirely(t *testing.T) {
	svc, st, registry := setupScheduler(t, nil)

	in := createInput("broken")
	in.Schedule = "every full moon"

	_, err := svc.CreateTask(in)
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	tasks, listErr := st.ListTasks(store.TaskFilter{})
	assert.NoError(t, listErr)
	assert.Empty(t, tasks, "invalid schedule must not persist a task")
	assert.Equal(t, 0, registry.Count())
}

func TestCreateTaskValidation(t *testing.T) {
	svc, _, _ := setupScheduler(t, nil)

	in := createInput("")
	_, err := svc.CreateTask(in)
	assert.ErrorIs(t, err, ErrValidation)

	in = createInput("bad type")
	in.Type = "cleanup"
	_, err = svc.CreateTask(in)
	assert.ErrorIs(t, err, ErrValidation)

	in = createInput("bad action json")
	in.Action = "not json"
	_, err = svc.CreateTask(in)
	assert.ErrorIs(t, err, ErrValidation)

	in = createInput("action without operation")
	in.Action = `{"params":{}}`
	_, err = svc.CreateTask(in)
	assert.ErrorIs(t, err, ErrValidation)

	in = createInput("bad notification config")
	in.NotificationConfig = "{{"
	_, err = svc.CreateTask(in)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestToggleLifecycle(t *testing.T) {
	svc, st, registry := setupScheduler(t, nil)

	view, err := svc.CreateTask(createInput("toggle me"))
	assert.NoError(t, err)
	assert.Equal(t, 1, registry.Count())

	paused, err := svc.Toggle(view.ID, "pause")
	assert.NoError(t, err)
	assert.Equal(t, "paused", paused.Status)
	assert.Equal(t, 0, registry.Count())

	stored, err := st.GetTask(view.ID)
	assert.NoError(t, err)
	assert.False(t, stored.Enabled)

	// Pausing again is idempotent.
	paused, err = svc.Toggle(view.ID, "pause")
	assert.NoError(t, err)
	assert.Equal(t, "paused", paused.Status)
	assert.Equal(t, 0, registry.Count())

	resumed, err := svc.Toggle(view.ID, "resume")
	assert.NoError(t, err)
	assert.Equal(t, "active", resumed.Status)
	assert.Equal(t, 1, registry.Count())
	assert.NotNil(t, resumed.NextRun)

	_, err = svc.Toggle(view.ID, "restart")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Toggle(uuid.NewString(), "pause")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestUpdateTask(t *testing.T) {
	svc, st, registry := setupScheduler(t, nil)

	view, err := svc.CreateTask(createInput("update me"))
	assert.NoError(t, err)

	newName := "updated name"
	newSchedule := "*/15 * * * *"
	updated, err := svc.UpdateTask(view.ID, UpdateTaskInput{Name: &newName, Schedule: &newSchedule})
	assert.NoError(t, err)
	assert.Equal(t, newName, updated.Name)
	assert.Equal(t, newSchedule, updated.Schedule)
	assert.Equal(t, 1, registry.Count(), "re-registration must not duplicate the trigger")

	// Disabling through update removes the trigger.
	disabled := false
	updated, err = svc.UpdateTask(view.ID, UpdateTaskInput{Enabled: &disabled})
	assert.NoError(t, err)
	assert.Equal(t, "paused", updated.Status)
	assert.Equal(t, 0, registry.Count())

	// An invalid schedule rejects the whole update; the stored definition
	// is untouched.
	badSchedule := "whenever"
	_, err = svc.UpdateTask(view.ID, UpdateTaskInput{Schedule: &badSchedule})
	assert.ErrorIs(t, err, ErrInvalidSchedule)
	stored, err := st.GetTask(view.ID)
	assert.NoError(t, err)
	assert.Equal(t, newSchedule, stored.Schedule)

	_, err = svc.UpdateTask(uuid.NewString(), UpdateTaskInput{Name: &newName})
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestDeleteTaskRetainsHistory(t *testing.T) {
	svc, _, registry := setupScheduler(t, nil)

	view, err := svc.CreateTask(createInput("doomed"))
	assert.NoError(t, err)

	handle, err := svc.ExecuteNow(view.ID)
	assert.NoError(t, err)
	assert.Equal(t, schedDB.TriggerManual, handle.TriggerMode)
	waitForIdle(t, svc.executor, view.ID)

	assert.NoError(t, svc.DeleteTask(view.ID))
	assert.Equal(t, 0, registry.Count())

	_, err = svc.GetTask(view.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	tasks, err := svc.ListTasks(store.TaskFilter{})
	assert.NoError(t, err)
	assert.Empty(t, tasks)

	// History survives the deletion for audit.
	records, err := svc.GetHistory(view.ID, store.HistoryFilter{})
	assert.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, schedDB.ExecutionSuccess, records[0].Status)

	assert.ErrorIs(t, svc.DeleteTask(view.ID), ErrTaskNotFound)
}

func TestGetHistoryUnknownTask(t *testing.T) {
	svc, _, _ := setupScheduler(t, nil)

	_, err := svc.GetHistory(uuid.NewString(), store.HistoryFilter{})
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRebuildRestoresInvariant(t *testing.T) {
	svc, st, registry := setupScheduler(t, nil)

	a, err := svc.CreateTask(createInput("keeps running"))
	assert.NoError(t, err)
	b, err := svc.CreateTask(createInput("schedule rots"))
	assert.NoError(t, err)
	disabled := false
	in := createInput("stays paused")
	in.Enabled = &disabled
	_, err = svc.CreateTask(in)
	assert.NoError(t, err)

	// Corrupt one stored schedule behind the facade's back, as a bad
	// migration would.
	rotted, err := st.GetTask(b.ID)
	assert.NoError(t, err)
	rotted.Schedule = "no longer cron"
	assert.NoError(t, st.UpdateTask(rotted))

	assert.NoError(t, svc.Rebuild())

	// Exactly one live trigger per enabled, parsable task.
	assert.Equal(t, 1, registry.Count())
	_, ok := registry.NextRun(a.ID)
	assert.True(t, ok)
	_, ok = registry.NextRun(b.ID)
	assert.False(t, ok)
}

func TestGetStatistics(t *testing.T) {
	svc, _, _ := setupScheduler(t, nil)

	_, err := svc.CreateTask(createInput("r1"))
	assert.NoError(t, err)
	in := createInput("m1")
	in.Type = schedDB.TaskTypeMonitoring
	disabled := false
	in.Enabled = &disabled
	_, err = svc.CreateTask(in)
	assert.NoError(t, err)

	stats, err := svc.GetStatistics()
	assert.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalTasks)
	assert.Equal(t, int64(1), stats.ActiveTasks)
	assert.Equal(t, int64(1), stats.PausedTasks)
	assert.Equal(t, 1, stats.LiveTriggerCount)
	assert.Equal(t, int64(1), stats.TasksByType[schedDB.TaskTypeReport])
	assert.Equal(t, int64(1), stats.TasksByType[schedDB.TaskTypeMonitoring])
}

func TestExecuteNowConflictSurfacesAlreadyRunning(t *testing.T) {
	block := make(chan struct{})
	inv := invokerFunc(func(ctx context.Context, action string) (string, error) {
		<-block
		return "done", nil
	})
	svc, _, _ := setupScheduler(t, inv)

	view, err := svc.CreateTask(createInput("slow task"))
	assert.NoError(t, err)

	_, err = svc.ExecuteNow(view.ID)
	assert.NoError(t, err)

	_, err = svc.ExecuteNow(view.ID)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(block)
	waitForIdle(t, svc.executor, view.ID)
}
