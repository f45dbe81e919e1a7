package main

import (
	"context"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"

	"admin-task-scheduler/internal/scheduler/api"
	schedDB "admin-task-scheduler/internal/scheduler/db"
	"admin-task-scheduler/internal/scheduler/invoker"
	schedKafka "admin-task-scheduler/internal/scheduler/kafka"
	"admin-task-scheduler/internal/scheduler/services"
	"admin-task-scheduler/internal/scheduler/store"
	gormDB "admin-task-scheduler/pkg/db"
)

func main() {
	stdlog.Println("Admin Task Scheduler starting...")

	appCtx, appCancel := context.WithCancel(context.Background())

	db, err := gormDB.NewGormDB()
	if err != nil {
		stdlog.Fatalf("Failed to initialize database: %v", err)
	}
	stdlog.Println("Database initialized successfully.")

	stdlog.Println("Running database migrations...")
	if err := gormDB.AutoMigrate(db, &schedDB.ScheduledTask{}, &schedDB.ExecutionRecord{}); err != nil {
		stdlog.Fatalf("Failed to migrate database: %v", err)
	}
	stdlog.Println("Database migration successful.")

	taskStore := store.NewStore(db)

	kafkaWriter := schedKafka.NewWriter()
	notifier := schedKafka.NewNotificationProducer(kafkaWriter)

	actions := invoker.NewRegistry()
	actions.Register("echo", &invoker.EchoHandler{})

	executor := services.NewTaskExecutor(appCtx, taskStore, actions, notifier)
	registry, err := services.NewCronTriggerRegistry(executor)
	if err != nil {
		stdlog.Fatalf("Failed to create trigger registry: %v", err)
	}
	scheduler := services.NewSchedulerService(taskStore, registry, executor)
	if err := scheduler.Start(); err != nil {
		stdlog.Fatalf("Failed to start scheduler: %v", err)
	}

	serverAddr := os.Getenv("SERVER_ADDR")
	if serverAddr == "" {
		serverAddr = ":8080"
	}

	hlog.SetOutput(os.Stdout)
	hlog.SetLevel(hlog.LevelInfo)

	h := server.Default(server.WithHostPorts(serverAddr), server.WithExitWaitTime(5*time.Second))

	taskHandler := api.NewTaskHandler(scheduler)

	taskGroup := h.Group("/tasks")
	{
		taskGroup.POST("", taskHandler.CreateTask)
		taskGroup.GET("", taskHandler.GetTasks)
		taskGroup.GET("/:id", taskHandler.GetTaskByID)
		taskGroup.PUT("/:id", taskHandler.UpdateTask)
		taskGroup.DELETE("/:id", taskHandler.DeleteTask)
		taskGroup.POST("/:id/execute", taskHandler.ExecuteTask)
		taskGroup.POST("/:id/toggle", taskHandler.ToggleTask)
		taskGroup.GET("/:id/history", taskHandler.GetTaskHistory)
	}
	h.GET("/statistics", taskHandler.GetStatistics)

	adminGroup := h.Group("/admin")
	adminGroup.POST("/scheduler/refresh", func(c context.Context, ctxReq *app.RequestContext) {
		if err := scheduler.Rebuild(); err != nil {
			ctxReq.JSON(http.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		ctxReq.JSON(http.StatusOK, utils.H{"message": "Scheduler refresh triggered"})
	})

	h.GET("/ping", func(c context.Context, ctxReq *app.RequestContext) {
		ctxReq.JSON(http.StatusOK, utils.H{"message": "pong"})
	})

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		sig := <-signals
		hlog.Infof("Received signal: %s. Initiating graceful shutdown...", sig)

		appCancel()

		shutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer httpShutdownCancel()
		if err := h.Shutdown(shutdownCtx); err != nil {
			hlog.Errorf("Hertz server shutdown error: %v", err)
		} else {
			hlog.Info("Hertz server gracefully stopped.")
		}

		scheduler.Stop()

		if err := notifier.Close(); err != nil {
			hlog.Errorf("Kafka producer close error: %v", err)
		} else {
			hlog.Info("Kafka producer closed.")
		}
		hlog.Info("Admin Task Scheduler gracefully shut down.")
	}()

	hlog.Infof("Admin Task Scheduler fully initialized, starting Hertz server on %s...", serverAddr)
	h.Spin()

	stdlog.Println("Admin Task Scheduler has been shut down.")
}
