package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/nmakarov/conveyor/internal/domain"
	"github.com/nmakarov/conveyor/internal/repo"
	"github.com/nmakarov/conveyor/internal/service"
)

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?workflow=...&status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{
		WorkflowName: r.URL.Query().Get("workflow"),
		Limit:        parseIntParam(r.URL.Query().Get("limit"), 50),
		Offset:       parseIntParam(r.URL.Query().Get("offset"), 0),
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = domain.RunStatus(status)
	}

	runs, err := h.runs.ListRuns(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// CreateRun запускает workflow.
// POST /api/v1/workflows/{name}/runs?wait=true
//
// По умолчанию запуск асинхронный: ответ 202 с run в статусе PENDING.
// С ?wait=true выполнение синхронное: ответ 200 с терминальным run.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	version := 0
	if req.Version != nil {
		version = *req.Version
	}

	wait := r.URL.Query().Get("wait") == "true"

	var run *domain.Run
	var err error
	if wait {
		run, err = h.runs.StartAndWait(r.Context(), name, version, req.Input)
	} else {
		run, err = h.runs.Start(r.Context(), name, version, req.Input)
	}
	if err != nil {
		if HandleDefinitionError(w, err) {
			return
		}
		HandleRepoError(w, h.logger, err, "workflow not found")
		return
	}

	if wait {
		Success(w, RunFromDomain(*run))
		return
	}
	Accepted(w, RunFromDomain(*run))
}

// GetRun возвращает run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runs.GetRun(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(*run))
}

// CancelRun отменяет выполняющийся run.
// POST /api/v1/runs/{id}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	if err := h.runs.Cancel(id); err != nil {
		if errors.Is(err, service.ErrRunNotActive) {
			InvalidState(w, "run is not active")
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	NoContent(w)
}

// ListRunTasks возвращает per-task результаты run.
// GET /api/v1/runs/{id}/tasks
func (h *Handler) ListRunTasks(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	// Проверяем, что run существует
	_, err = h.runs.GetRun(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	records, err := h.runs.ListTaskRecords(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]TaskRecordResponse, len(records))
	for i, rec := range records {
		result[i] = TaskRecordFromDomain(rec)
	}

	List(w, result, len(result))
}

// parseIntParam парсит query-параметр в int с дефолтным значением.
func parseIntParam(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
