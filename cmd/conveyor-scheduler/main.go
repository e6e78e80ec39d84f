// Conveyor Scheduler — запускает workflow по расписаниям.
//
// Scheduler:
//   - Раз в секунду проверяет due schedules (cron или интервал)
//   - Запускает runs через RunService
//   - Обновляет next_due_at
//
// Лидерство между репликами обеспечивается через pg_try_advisory_lock:
// тики выполняет только лидер.
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

	"github.com/nmakarov/conveyor/internal/engine"
	"github.com/nmakarov/conveyor/internal/events"
	"github.com/nmakarov/conveyor/internal/repo"
	"github.com/nmakarov/conveyor/internal/runner"
	"github.com/nmakarov/conveyor/internal/scheduler"
	"github.com/nmakarov/conveyor/internal/service"
	"github.com/nmakarov/conveyor/internal/telemetry"
)

const schedLockKey int64 = 424242

var startTime = time.Now()

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting conveyor-scheduler")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Создаём репозитории
	workflowRepo := repo.NewWorkflowRepo(pool)
	runRepo := repo.NewRunRepo(pool)
	scheduleRepo := repo.NewScheduleRepo(pool)

	// RabbitMQ (опционально)
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

		if err := events.SetupTopology(ctx, eventsConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = events.NewPublisher(eventsConn, logger)
	}

	// Сервис запусков
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

	sched := scheduler.New(scheduler.Config{
		ScheduleRepo: scheduleRepo,
		Runs:         runService,
		Logger:       logger,
	})

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// scheduler loop
	go func() {
		tk := time.NewTicker(1 * time.Second)
		defer tk.Stop()

		var hasLock bool
		defer func() {
			if hasLock {
				_, _ = pool.Exec(context.Background(), "select pg_advisory_unlock($1)", schedLockKey)
			}
		}()

		for {
			select {
			case <-tk.C:
				// пытаемся стать лидером (или подтвердить лидерство)
				if !hasLock {
					var ok bool
					if err := pool.QueryRow(ctx, "select pg_try_advisory_lock($1)", schedLockKey).Scan(&ok); err != nil {
						logger.Error("advisory lock error", "error", err)
						continue
					}
					hasLock = ok
				}

				if !hasLock {
					// не лидер — пропускаем тик
					continue
				}

				if err := sched.Tick(ctx); err != nil {
					logger.Error("scheduler tick failed", "error", err)
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	addr := ":8081"
	if v := os.Getenv("SCHED_PORT"); v != "" {
		addr = ":" + v
	}

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	// Дожидаемся запущенных runs
	runService.Wait()

	logger.Info("stopped")
}
