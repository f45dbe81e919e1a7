package store

import (
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	schedDB "admin-task-scheduler/internal/scheduler/db"
)

const DefaultPageSize = 50

// TaskFilter narrows and pages listTasks results.
type TaskFilter struct {
	Status string // "active" or "paused", empty for all
	Type   schedDB.TaskType
	Limit  int
	Offset int
}

// HistoryFilter narrows and pages getHistory results.
type HistoryFilter struct {
	Status schedDB.ExecutionStatus
	Limit  int
	Offset int
}

// Statistics is the aggregate view returned by getStatistics.
type Statistics struct {
	TotalTasks       int64                             `json:"total_tasks"`
	ActiveTasks      int64                             `json:"active_tasks"`
	PausedTasks      int64                             `json:"paused_tasks"`
	TasksByType      map[schedDB.TaskType]int64        `json:"tasks_by_type"`
	RecordsByStatus  map[schedDB.ExecutionStatus]int64 `json:"records_by_status"`
	LiveTriggerCount int                               `json:"live_trigger_count"`
}

// Store persists scheduled task definitions and the append-only execution
// history. Task rows and history rows are deliberately independent: deleting
// a task leaves its execution records in place.
type Store struct {
	DB *gorm.DB
}

func NewStore(gormDB *gorm.DB) *Store {
	return &Store{DB: gormDB}
}

func (s *Store) CreateTask(task *schedDB.ScheduledTask) error {
	if err := s.DB.Create(task).Error; err != nil {
		return fmt.Errorf("failed to create task %s: %w", task.ID, err)
	}
	return nil
}

func (s *Store) GetTask(id string) (*schedDB.ScheduledTask, error) {
	var task schedDB.ScheduledTask
	if err := s.DB.First(&task, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *Store) UpdateTask(task *schedDB.ScheduledTask) error {
	if err := s.DB.Save(task).Error; err != nil {
		return fmt.Errorf("failed to update task %s: %w", task.ID, err)
	}
	return nil
}

func (s *Store) DeleteTask(id string) error {
	res := s.DB.Delete(&schedDB.ScheduledTask{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *Store) ListTasks(filter TaskFilter) ([]schedDB.ScheduledTask, error) {
	query := s.DB.Model(&schedDB.ScheduledTask{})
	switch filter.Status {
	case "active":
		query = query.Where("enabled = ?", true)
	case "paused":
		query = query.Where("enabled = ?", false)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	var tasks []schedDB.ScheduledTask
	if err := query.Order("created_at").Limit(limit).Offset(filter.Offset).Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// ListEnabledTasks returns every task the trigger registry must hold a live
// trigger for. Used for the startup rebuild.
func (s *Store) ListEnabledTasks() ([]schedDB.ScheduledTask, error) {
	var tasks []schedDB.ScheduledTask
	if err := s.DB.Where("enabled = ?", true).Order("created_at").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list enabled tasks: %w", err)
	}
	return tasks, nil
}

// AppendRecord inserts a new execution record, normally with status running.
func (s *Store) AppendRecord(rec *schedDB.ExecutionRecord) error {
	if err := s.DB.Create(rec).Error; err != nil {
		return fmt.Errorf("failed to append execution record %s: %w", rec.ExecutionID, err)
	}
	return nil
}

// FinalizeRecord sets the terminal status of one record. It is the only
// mutation history rows ever see, and it refuses to touch a record that is
// already terminal.
func (s *Store) FinalizeRecord(executionID string, status schedDB.ExecutionStatus, output, errMsg string, endTime time.Time, durationMs int64) error {
	if !status.IsTerminal() {
		return fmt.Errorf("cannot finalize record %s with non-terminal status %q", executionID, status)
	}
	res := s.DB.Model(&schedDB.ExecutionRecord{}).
		Where("execution_id = ? AND status = ?", executionID, schedDB.ExecutionRunning).
		Updates(map[string]interface{}{
			"status":      status,
			"output":      output,
			"error":       errMsg,
			"end_time":    endTime,
			"duration_ms": durationMs,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to finalize execution record %s: %w", executionID, res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *Store) GetRecord(executionID string) (*schedDB.ExecutionRecord, error) {
	var rec schedDB.ExecutionRecord
	if err := s.DB.First(&rec, "execution_id = ?", executionID).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListHistory returns records for one task, newest attempt first.
func (s *Store) ListHistory(taskID string, filter HistoryFilter) ([]schedDB.ExecutionRecord, error) {
	query := s.DB.Model(&schedDB.ExecutionRecord{}).Where("task_id = ?", taskID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	var records []schedDB.ExecutionRecord
	err := query.Order("start_time DESC, attempt_number DESC").Limit(limit).Offset(filter.Offset).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list history for task %s: %w", taskID, err)
	}
	return records, nil
}

// HasHistory reports whether any execution record exists for the task,
// including records for tasks that were since deleted.
func (s *Store) HasHistory(taskID string) (bool, error) {
	var count int64
	if err := s.DB.Model(&schedDB.ExecutionRecord{}).Where("task_id = ?", taskID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to count history for task %s: %w", taskID, err)
	}
	return count > 0, nil
}

// Stats aggregates task and record counts. LiveTriggerCount is filled in by
// the caller, which owns the registry.
func (s *Store) Stats() (*Statistics, error) {
	stats := &Statistics{
		TasksByType:     make(map[schedDB.TaskType]int64),
		RecordsByStatus: make(map[schedDB.ExecutionStatus]int64),
	}
	if err := s.DB.Model(&schedDB.ScheduledTask{}).Count(&stats.TotalTasks).Error; err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	if err := s.DB.Model(&schedDB.ScheduledTask{}).Where("enabled = ?", true).Count(&stats.ActiveTasks).Error; err != nil {
		return nil, fmt.Errorf("failed to count active tasks: %w", err)
	}
	stats.PausedTasks = stats.TotalTasks - stats.ActiveTasks

	type typeCount struct {
		Type  schedDB.TaskType
		Count int64
	}
	var byType []typeCount
	if err := s.DB.Model(&schedDB.ScheduledTask{}).Select("type, COUNT(*) as count").Group("type").Scan(&byType).Error; err != nil {
		return nil, fmt.Errorf("failed to count tasks by type: %w", err)
	}
	for _, tc := range byType {
		stats.TasksByType[tc.Type] = tc.Count
	}

	type statusCount struct {
		Status schedDB.ExecutionStatus
		Count  int64
	}
	var byStatus []statusCount
	if err := s.DB.Model(&schedDB.ExecutionRecord{}).Select("status, COUNT(*) as count").Group("status").Scan(&byStatus).Error; err != nil {
		return nil, fmt.Errorf("failed to count records by status: %w", err)
	}
	for _, sc := range byStatus {
		stats.RecordsByStatus[sc.Status] = sc.Count
	}
	return stats, nil
}

// MarkInterruptedRuns finalizes records left in running state by a previous
// process. Called once at startup, before the overlap guard or the trigger
// registry come up, so a crash cannot leave a task stuck running forever.
func (s *Store) MarkInterruptedRuns() (int64, error) {
	now := time.Now()
	res := s.DB.Model(&schedDB.ExecutionRecord{}).
		Where("status = ?", schedDB.ExecutionRunning).
		Updates(map[string]interface{}{
			"status":   schedDB.ExecutionFailed,
			"error":    "interrupted by shutdown",
			"end_time": now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reconcile interrupted runs: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		log.Printf("[Store] Marked %d interrupted execution record(s) as failed", res.RowsAffected)
	}
	return res.RowsAffected, nil
}
