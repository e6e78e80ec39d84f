package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/nmakarov/conveyor/internal/domain"
)

// ListWorkflows возвращает сводку по всем workflows.
// GET /api/v1/workflows
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	infos, err := h.workflowRepo.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	List(w, infos, len(infos))
}

// CreateWorkflow публикует новую версию определения workflow.
// POST /api/v1/workflows
//
// Тело запроса — определение целиком. Определение валидируется
// построением графа до сохранения: невалидное определение
// не попадает в хранилище.
func (h *Handler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var def domain.WorkflowDef
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if def.Name == "" {
		BadRequest(w, "name is required")
		return
	}

	if err := h.runs.Validate(&def); err != nil {
		if HandleDefinitionError(w, err) {
			return
		}
		BadRequest(w, err.Error())
		return
	}

	stored, err := h.workflowRepo.Create(r.Context(), &def)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Created(w, stored)
}

// GetWorkflow возвращает последнюю версию определения.
// GET /api/v1/workflows/{name}
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	def, err := h.workflowRepo.GetLatest(r.Context(), name)
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	Success(w, def)
}

// DeleteWorkflow удаляет workflow со всеми версиями.
// DELETE /api/v1/workflows/{name}
func (h *Handler) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := h.workflowRepo.Delete(r.Context(), name); err != nil {
		if HandleRepoError(w, h.logger, err, "workflow not found") {
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	NoContent(w)
}

// ListWorkflowVersions возвращает все версии определения.
// GET /api/v1/workflows/{name}/versions
func (h *Handler) ListWorkflowVersions(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	defs, err := h.workflowRepo.ListVersions(r.Context(), name)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	if len(defs) == 0 {
		NotFound(w, "workflow not found")
		return
	}

	List(w, defs, len(defs))
}

// GetWorkflowVersion возвращает конкретную версию определения.
// GET /api/v1/workflows/{name}/versions/{version}
func (h *Handler) GetWorkflowVersion(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || version <= 0 {
		BadRequest(w, "invalid version")
		return
	}

	def, err := h.workflowRepo.Get(r.Context(), name, version)
	if HandleRepoError(w, h.logger, err, "workflow version not found") {
		return
	}

	Success(w, def)
}
