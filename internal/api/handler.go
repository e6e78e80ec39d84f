package api

import (
	"log/slog"

	"github.com/nmakarov/conveyor/internal/repo"
	"github.com/nmakarov/conveyor/internal/service"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	workflowRepo *repo.WorkflowRepo
	scheduleRepo *repo.ScheduleRepo
	runs         *service.RunService
	logger       *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	WorkflowRepo *repo.WorkflowRepo
	ScheduleRepo *repo.ScheduleRepo
	Runs         *service.RunService
	Logger       *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		workflowRepo: cfg.WorkflowRepo,
		scheduleRepo: cfg.ScheduleRepo,
		runs:         cfg.Runs,
		logger:       cfg.Logger,
	}
}
