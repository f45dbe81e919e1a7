package db

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	testDBFile := "test_models.db"
	_ = os.Remove(testDBFile)

	gormDB, err := gorm.Open(sqlite.Open(testDBFile), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := gormDB.AutoMigrate(&ScheduledTask{}, &ExecutionRecord{}); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return gormDB
}

func teardownTestDB(gormDB *gorm.DB, t *testing.T) {
	sqlDB, err := gormDB.DB()
	if err == nil {
		if err = sqlDB.Close(); err != nil {
			t.Logf("Warning: could not close test DB: %v", err)
		}
	}
	if err := os.Remove("test_models.db"); err != nil && !os.IsNotExist(err) {
		t.Logf("Warning: could not remove test DB file: %v", err)
	}
}

func TestScheduledTaskCRUD(t *testing.T) {
	gormDB := setupTestDB(t)
	defer teardownTestDB(gormDB, t)

	task := ScheduledTask{
		ID:                 uuid.NewString(),
		Name:               "Weekly license report",
		Type:               TaskTypeReport,
		Schedule:           "0 6 * * 1",
		Action:             `{"operation":"echo","params":{"report":"licenses"}}`,
		Enabled:            true,
		MaxRetries:         2,
		RetryDelaySeconds:  10,
		NotificationConfig: `{"on_failure":true}`,
		CreatedBy:          "ops@example.com",
	}
	result := gormDB.Create(&task)
	assert.NoError(t, result.Error)
	assert.False(t, task.CreatedAt.IsZero())

	var fetched ScheduledTask
	result = gormDB.First(&fetched, "id = ?", task.ID)
	assert.NoError(t, result.Error)
	assert.Equal(t, task.Name, fetched.Name)
	assert.Equal(t, TaskTypeReport, fetched.Type)
	assert.Equal(t, "active", fetched.Status())
	assert.Equal(t, 10*time.Second, fetched.RetryDelay())

	fetched.Enabled = false
	assert.NoError(t, gormDB.Save(&fetched).Error)

	var updated ScheduledTask
	gormDB.First(&updated, "id = ?", task.ID)
	assert.False(t, updated.Enabled)
	assert.Equal(t, "paused", updated.Status())

	result = gormDB.Delete(&updated)
	assert.NoError(t, result.Error)

	var deleted ScheduledTask
	result = gormDB.First(&deleted, "id = ?", task.ID)
	assert.Error(t, result.Error)
	assert.Equal(t, gorm.ErrRecordNotFound, result.Error)
}

func TestExecutionRecordAttemptOrdering(t *testing.T) {
	gormDB := setupTestDB(t)
	defer teardownTestDB(gormDB, t)

	taskID := uuid.NewString()
	runID := uuid.NewString()
	base := time.Now().Add(-time.Minute)
	for i := uint(1); i <= 3; i++ {
		rec := ExecutionRecord{
			ExecutionID:   uuid.NewString(),
			RunID:         runID,
			TaskID:        taskID,
			StartTime:     base.Add(time.Duration(i) * time.Second),
			Status:        ExecutionFailed,
			TriggerMode:   TriggerScheduled,
			AttemptNumber: i,
			Error:         "boom",
		}
		assert.NoError(t, gormDB.Create(&rec).Error)
	}

	var records []ExecutionRecord
	err := gormDB.Where("run_id = ?", runID).Order("attempt_number").Find(&records).Error
	assert.NoError(t, err)
	assert.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, uint(i+1), rec.AttemptNumber)
		assert.Equal(t, taskID, rec.TaskID)
	}
	assert.True(t, records[0].StartTime.Before(records[2].StartTime))
}

func TestTaskTypeValid(t *testing.T) {
	assert.True(t, TaskTypeReport.Valid())
	assert.True(t, TaskTypeBackup.Valid())
	assert.True(t, TaskTypeMaintenance.Valid())
	assert.True(t, TaskTypeMonitoring.Valid())
	assert.False(t, TaskType("cleanup").Valid())
	assert.False(t, TaskType("").Valid())
}

func TestExecutionStatusIsTerminal(t *testing.T) {
	assert.False(t, ExecutionRunning.IsTerminal())
	assert.True(t, ExecutionSuccess.IsTerminal())
	assert.True(t, ExecutionFailed.IsTerminal())
}
