// Conveyor API — HTTP сервер для управления workflows, runs и schedules.
//
// API:
//   - Принимает и валидирует определения workflow
//   - Запускает runs (асинхронно или с ожиданием через ?wait=true)
//   - Отдаёт историю runs и per-task результаты
//   - Управляет schedules
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nmakarov/conveyor/internal/api"
	"github.com/nmakarov/conveyor/internal/engine"
	"github.com/nmakarov/conveyor/internal/events"
	"github.com/nmakarov/conveyor/internal/repo"
	"github.com/nmakarov/conveyor/internal/runner"
	"github.com/nmakarov/conveyor/internal/service"
	"github.com/nmakarov/conveyor/internal/telemetry"
)

var startTime = time.Now()

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting conveyor-api")

	// Подключаемся к базе данных
	pool, err := repo.NewPool(context.Background())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	// Создаём репозитории
	workflowRepo := repo.NewWorkflowRepo(pool)
	runRepo := repo.NewRunRepo(pool)
	scheduleRepo := repo.NewScheduleRepo(pool)

	// RabbitMQ (опционально: без брокера события не публикуются)
	var publisher *events.Publisher
	amqpURL := os.Getenv("RABBITMQ_URL")
	if amqpURL == "" {
		amqpURL = events.DefaultURL()
	}

	eventsConn, err := events.NewConnection(amqpURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, events disabled", "error", err)
	} else {
		defer eventsConn.Close()
		logger.Info("RabbitMQ connected")

		if err := events.SetupTopology(context.Background(), eventsConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = events.NewPublisher(eventsConn, logger)
	}

	// Сервис запусков: shell-команды и HTTP-запросы выполняются
	// прямо в этом процессе.
	runService := service.New(service.Config{
		Workflows: workflowRepo,
		Runs:      runRepo,
		Publisher: publisher,
		Capabilities: engine.Capabilities{
			Commands: runner.NewShellRunner(),
			HTTP:     runner.NewHTTPClient(0),
		},
		Logger: logger,
	})

	// Создаём API handler
	handler := api.NewHandler(api.Config{
		WorkflowRepo: workflowRepo,
		ScheduleRepo: scheduleRepo,
		Runs:         runService,
		Logger:       logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	addr := ":8080"
	if v := os.Getenv("API_PORT"); v != "" {
		addr = ":" + v
	}

	// Создаём HTTP сервер с возможностью graceful shutdown
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Запускаем сервер в горутине
	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Ожидаем сигнал завершения
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	// Дожидаемся асинхронных runs
	runService.Wait()

	logger.Info("stopped")
}
