package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nmakarov/conveyor/internal/domain"
	"github.com/nmakarov/conveyor/internal/engine"
	"github.com/nmakarov/conveyor/internal/events"
	"github.com/nmakarov/conveyor/internal/repo"
	"github.com/nmakarov/conveyor/internal/telemetry"
)

// RunService запускает workflow и сохраняет результаты выполнения.
//
// Сервис используется API (ручные запуски) и scheduler (запуски по
// расписанию). Выполнение одного run целиком происходит внутри
// процесса: сервис строит граф, отдаёт его движку и фиксирует итог.
type RunService struct {
	workflows *repo.WorkflowRepo
	runs      *repo.RunRepo
	publisher *events.Publisher
	caps      engine.Capabilities
	logger    *slog.Logger

	// wg отслеживает асинхронные запуски для graceful shutdown.
	wg sync.WaitGroup

	// active — cancel-функции выполняющихся runs (runID → cancel).
	active   map[uuid.UUID]context.CancelFunc
	activeMu sync.Mutex
}

// ErrRunNotActive — run не выполняется в этом процессе.
var ErrRunNotActive = errors.New("run is not active")

// Config — конфигурация RunService.
type Config struct {
	// Workflows — репозиторий определений.
	Workflows *repo.WorkflowRepo

	// Runs — репозиторий runs.
	Runs *repo.RunRepo

	// Publisher — публикация событий (опционально, nil — без событий).
	Publisher *events.Publisher

	// Capabilities — способности выполнения задач.
	Capabilities engine.Capabilities

	// Logger — логгер (default: slog.Default()).
	Logger *slog.Logger
}

// New создаёт новый RunService.
func New(cfg Config) *RunService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RunService{
		workflows: cfg.Workflows,
		runs:      cfg.Runs,
		publisher: cfg.Publisher,
		caps:      cfg.Capabilities,
		logger:    logger,
		active:    make(map[uuid.UUID]context.CancelFunc),
	}
}

// Validate проверяет определение построением графа.
// Возвращает *engine.DefinitionError с указанием задачи и поля.
func (s *RunService) Validate(def *domain.WorkflowDef) error {
	_, err := engine.BuildGraph(def)
	return err
}

// Start создаёт run и запускает выполнение в фоне.
// Возвращает run в статусе PENDING; прогресс виден через GetRun.
func (s *RunService) Start(ctx context.Context, name string, version int, input map[string]any) (*domain.Run, error) {
	run, graph, err := s.prepare(ctx, name, version, input)
	if err != nil {
		return nil, err
	}

	// Выполнение переживает запрос, породивший его: run выполняется
	// с собственным контекстом и останавливается только через Cancel.
	execCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.activeMu.Lock()
	s.active[run.ID] = cancel
	s.activeMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.activeMu.Lock()
			delete(s.active, run.ID)
			s.activeMu.Unlock()
			cancel()
		}()
		s.execute(execCtx, run, graph)
	}()

	return run, nil
}

// Cancel останавливает выполняющийся run: новые задачи не запускаются,
// run завершится FAILED. Возвращает ErrRunNotActive, если run не
// выполняется в этом процессе.
func (s *RunService) Cancel(id uuid.UUID) error {
	s.activeMu.Lock()
	cancel, ok := s.active[id]
	s.activeMu.Unlock()

	if !ok {
		return ErrRunNotActive
	}

	cancel()
	return nil
}

// StartAndWait создаёт run и выполняет его синхронно.
// Возвращает run в терминальном статусе.
func (s *RunService) StartAndWait(ctx context.Context, name string, version int, input map[string]any) (*domain.Run, error) {
	run, graph, err := s.prepare(ctx, name, version, input)
	if err != nil {
		return nil, err
	}

	s.execute(ctx, run, graph)
	return run, nil
}

// GetRun возвращает run по ID.
func (s *RunService) GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	return s.runs.GetByID(ctx, id)
}

// ListRuns возвращает runs с фильтрацией.
func (s *RunService) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	return s.runs.List(ctx, filter)
}

// ListTaskRecords возвращает per-task результаты run.
func (s *RunService) ListTaskRecords(ctx context.Context, runID uuid.UUID) ([]domain.TaskRecord, error) {
	return s.runs.ListTaskRecords(ctx, runID)
}

// Wait дожидается завершения всех асинхронных запусков.
func (s *RunService) Wait() {
	s.wg.Wait()
}

// prepare загружает определение, строит граф и создаёт PENDING run.
// version <= 0 означает последнюю версию.
func (s *RunService) prepare(ctx context.Context, name string, version int, input map[string]any) (*domain.Run, *engine.Graph, error) {
	var def *domain.WorkflowDef
	var err error

	if version > 0 {
		def, err = s.workflows.Get(ctx, name, version)
	} else {
		def, err = s.workflows.GetLatest(ctx, name)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load workflow %q: %w", name, err)
	}

	graph, err := engine.BuildGraph(def)
	if err != nil {
		return nil, nil, fmt.Errorf("build graph for %q: %w", name, err)
	}

	run := &domain.Run{
		ID:              uuid.New(),
		WorkflowName:    def.Name,
		WorkflowVersion: def.Version,
		Status:          domain.RunStatusPending,
		Input:           input,
		CreatedAt:       time.Now(),
	}

	if err := s.runs.Create(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("create run: %w", err)
	}

	return run, graph, nil
}

// execute выполняет run и фиксирует итог: статус, per-task записи,
// событие и метрики. Ошибки фиксации логируются, но не меняют
// результат выполнения.
func (s *RunService) execute(ctx context.Context, run *domain.Run, graph *engine.Graph) {
	logger := telemetry.WithRunID(telemetry.WithWorkflow(s.logger, run.WorkflowName), run.ID.String())

	run.MarkRunning()
	if err := s.runs.Update(ctx, run); err != nil {
		logger.Error("failed to mark run running", "error", err)
	}

	if err := s.publisher.PublishRunStarted(ctx, run); err != nil {
		logger.Warn("failed to publish run.started", "error", err)
	}

	eng := engine.New(engine.Config{
		Graph:        graph,
		Capabilities: s.caps,
		Logger:       logger,
	})

	result := eng.Run(ctx, run.Input)

	if result.Succeeded() {
		run.MarkCompleted(result.Output)
	} else {
		run.MarkFailed(failureMessage(result))
	}

	if err := s.runs.Update(ctx, run); err != nil {
		logger.Error("failed to persist run result", "error", err)
	}

	records := make([]domain.TaskRecord, 0, len(result.TaskResults))
	for taskID, taskResult := range result.TaskResults {
		node := graph.Nodes[taskID]
		records = append(records, domain.NewTaskRecord(run.ID, taskID, node.Def.Type, taskResult))
		telemetry.ObserveTask(run.WorkflowName, node.Def.Type, string(taskResult.Status))
	}
	if err := s.runs.CreateTaskRecords(ctx, records); err != nil {
		logger.Error("failed to persist task records", "error", err)
	}

	telemetry.ObserveRun(run.WorkflowName, string(run.Status), run.Duration())

	if err := s.publisher.PublishRunFinished(ctx, run); err != nil {
		logger.Warn("failed to publish run.finished", "error", err)
	}
}

// failureMessage собирает человекочитаемую причину отказа run.
func failureMessage(result engine.RunResult) string {
	var failed, skipped []string
	for taskID, taskResult := range result.TaskResults {
		switch taskResult.Status {
		case domain.TaskStatusFailed:
			failed = append(failed, fmt.Sprintf("%s: %s", taskID, taskResult.Error))
		case domain.TaskStatusSkipped:
			skipped = append(skipped, taskID)
		}
	}
	sort.Strings(failed)
	sort.Strings(skipped)

	switch {
	case len(failed) > 0 && len(skipped) > 0:
		return fmt.Sprintf("failed tasks: %s; skipped tasks: %s",
			strings.Join(failed, "; "), strings.Join(skipped, ", "))
	case len(failed) > 0:
		return fmt.Sprintf("failed tasks: %s", strings.Join(failed, "; "))
	case len(skipped) > 0:
		return fmt.Sprintf("skipped tasks: %s", strings.Join(skipped, ", "))
	default:
		return "run did not complete"
	}
}
