package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"

	schedDB "admin-task-scheduler/internal/scheduler/db"
	"admin-task-scheduler/internal/scheduler/services"
	"admin-task-scheduler/internal/scheduler/store"
)

// TaskHandler exposes the scheduler facade over HTTP.
type TaskHandler struct {
	Svc *services.SchedulerService
}

func NewTaskHandler(svc *services.SchedulerService) *TaskHandler {
	return &TaskHandler{Svc: svc}
}

type CreateTaskRequest struct {
	Name               string `json:"name" validate:"required"`
	Type               string `json:"type" validate:"required"`
	Schedule           string `json:"schedule" validate:"required"`
	Action             string `json:"action" validate:"required"`
	Enabled            *bool  `json:"enabled"`
	MaxRetries         *uint  `json:"max_retries"`
	RetryDelaySeconds  *uint  `json:"retry_delay_seconds"`
	NotificationConfig string `json:"notification_config"`
	CreatedBy          string `json:"created_by"`
}

type UpdateTaskRequest struct {
	Name               *string `json:"name"`
	Type               *string `json:"type"`
	Schedule           *string `json:"schedule"`
	Action             *string `json:"action"`
	Enabled            *bool   `json:"enabled"`
	MaxRetries         *uint   `json:"max_retries"`
	RetryDelaySeconds  *uint   `json:"retry_delay_seconds"`
	NotificationConfig *string `json:"notification_config"`
}

type ToggleTaskRequest struct {
	Action string `json:"action" validate:"required"`
}

// writeError maps facade errors onto HTTP status codes.
func writeError(c *app.RequestContext, err error) {
	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrInvalidSchedule):
		c.JSON(http.StatusBadRequest, utils.H{"error": err.Error()})
	case errors.Is(err, services.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, utils.H{"error": err.Error()})
	case errors.Is(err, services.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, utils.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, utils.H{"error": err.Error()})
	}
}

func pagination(c *app.RequestContext) (limit, offset int) {
	if limitStr := c.Query("limit"); limitStr != "" {
		if v, err := strconv.Atoi(limitStr); err == nil {
			limit = v
		}
	}
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if v, err := strconv.Atoi(offsetStr); err == nil {
			offset = v
		}
	}
	return limit, offset
}

func (h *TaskHandler) CreateTask(ctx context.Context, c *app.RequestContext) {
	var req CreateTaskRequest
	if err := c.BindAndValidate(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload: " + err.Error()})
		return
	}
	task, err := h.Svc.CreateTask(services.CreateTaskInput{
		Name:               req.Name,
		Type:               schedDB.TaskType(req.Type),
		Schedule:           req.Schedule,
		Action:             req.Action,
		Enabled:            req.Enabled,
		MaxRetries:         req.MaxRetries,
		RetryDelaySeconds:  req.RetryDelaySeconds,
		NotificationConfig: req.NotificationConfig,
		CreatedBy:          req.CreatedBy,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *TaskHandler) GetTasks(ctx context.Context, c *app.RequestContext) {
	limit, offset := pagination(c)
	filter := store.TaskFilter{
		Status: c.Query("status"),
		Type:   schedDB.TaskType(c.Query("type")),
		Limit:  limit,
		Offset: offset,
	}
	tasks, err := h.Svc.ListTasks(filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (h *TaskHandler) GetTaskByID(ctx context.Context, c *app.RequestContext) {
	task, err := h.Svc.GetTask(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) UpdateTask(ctx context.Context, c *app.RequestContext) {
	var req UpdateTaskRequest
	if err := c.BindAndValidate(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload: " + err.Error()})
		return
	}
	in := services.UpdateTaskInput{
		Name:               req.Name,
		Schedule:           req.Schedule,
		Action:             req.Action,
		Enabled:            req.Enabled,
		MaxRetries:         req.MaxRetries,
		RetryDelaySeconds:  req.RetryDelaySeconds,
		NotificationConfig: req.NotificationConfig,
	}
	if req.Type != nil {
		taskType := schedDB.TaskType(*req.Type)
		in.Type = &taskType
	}
	task, err := h.Svc.UpdateTask(c.Param("id"), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) DeleteTask(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	if err := h.Svc.DeleteTask(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.H{"message": "task deleted", "id": id})
}

func (h *TaskHandler) ExecuteTask(ctx context.Context, c *app.RequestContext) {
	record, err := h.Svc.ExecuteNow(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, record)
}

func (h *TaskHandler) ToggleTask(ctx context.Context, c *app.RequestContext) {
	var req ToggleTaskRequest
	if err := c.BindAndValidate(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload: " + err.Error()})
		return
	}
	task, err := h.Svc.Toggle(c.Param("id"), req.Action)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) GetTaskHistory(ctx context.Context, c *app.RequestContext) {
	limit, offset := pagination(c)
	filter := store.HistoryFilter{
		Status: schedDB.ExecutionStatus(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	}
	records, err := h.Svc.GetHistory(c.Param("id"), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *TaskHandler) GetStatistics(ctx context.Context, c *app.RequestContext) {
	stats, err := h.Svc.GetStatistics()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
