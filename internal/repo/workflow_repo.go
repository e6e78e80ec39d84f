package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nmakarov/conveyor/internal/domain"
)

// WorkflowRepo — репозиторий для работы с определениями workflow.
//
// Определения версионируются: каждая публикация под тем же именем
// создаёт новую версию, старые версии остаются неизменными, чтобы
// история runs всегда ссылалась на точное определение.
type WorkflowRepo struct {
	pool *pgxpool.Pool
}

// NewWorkflowRepo создаёт новый WorkflowRepo.
func NewWorkflowRepo(pool *pgxpool.Pool) *WorkflowRepo {
	return &WorkflowRepo{pool: pool}
}

// WorkflowInfo — сводка по workflow для списков.
type WorkflowInfo struct {
	Name          string    `json:"name"`
	LatestVersion int       `json:"latest_version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Create сохраняет новую версию определения.
// Номер версии назначается автоматически; поле Version в def игнорируется.
func (r *WorkflowRepo) Create(ctx context.Context, def *domain.WorkflowDef) (*domain.WorkflowDef, error) {
	defJSON, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("marshal definition: %w", err)
	}

	// Получаем следующий номер версии
	var nextVersion int
	err = r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1
		FROM workflow_defs
		WHERE name = $1
	`, def.Name).Scan(&nextVersion)
	if err != nil {
		return nil, fmt.Errorf("get next version: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO workflow_defs (name, version, definition, created_at)
		VALUES ($1, $2, $3, NOW())
	`, def.Name, nextVersion, defJSON)
	if err != nil {
		return nil, fmt.Errorf("insert workflow def: %w", err)
	}

	stored := *def
	stored.Version = nextVersion
	return &stored, nil
}

// Get возвращает конкретную версию определения.
func (r *WorkflowRepo) Get(ctx context.Context, name string, version int) (*domain.WorkflowDef, error) {
	query := `
		SELECT definition, version
		FROM workflow_defs
		WHERE name = $1 AND version = $2
	`
	return r.scanDef(r.pool.QueryRow(ctx, query, name, version))
}

// GetLatest возвращает последнюю версию определения.
func (r *WorkflowRepo) GetLatest(ctx context.Context, name string) (*domain.WorkflowDef, error) {
	query := `
		SELECT definition, version
		FROM workflow_defs
		WHERE name = $1
		ORDER BY version DESC
		LIMIT 1
	`
	return r.scanDef(r.pool.QueryRow(ctx, query, name))
}

// List возвращает сводку по всем workflow (по одной строке на имя).
func (r *WorkflowRepo) List(ctx context.Context) ([]WorkflowInfo, error) {
	query := `
		SELECT name, MAX(version), MIN(created_at), MAX(created_at)
		FROM workflow_defs
		GROUP BY name
		ORDER BY name
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var infos []WorkflowInfo
	for rows.Next() {
		var info WorkflowInfo
		if err := rows.Scan(
			&info.Name,
			&info.LatestVersion,
			&info.CreatedAt,
			&info.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan workflow info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// ListVersions возвращает все версии определения по имени.
func (r *WorkflowRepo) ListVersions(ctx context.Context, name string) ([]domain.WorkflowDef, error) {
	query := `
		SELECT definition, version
		FROM workflow_defs
		WHERE name = $1
		ORDER BY version DESC
	`
	rows, err := r.pool.Query(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("list workflow versions: %w", err)
	}
	defer rows.Close()

	var defs []domain.WorkflowDef
	for rows.Next() {
		var defJSON []byte
		var version int
		if err := rows.Scan(&defJSON, &version); err != nil {
			return nil, fmt.Errorf("scan workflow def: %w", err)
		}

		var def domain.WorkflowDef
		if err := json.Unmarshal(defJSON, &def); err != nil {
			return nil, fmt.Errorf("unmarshal definition: %w", err)
		}
		def.Version = version

		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// Delete удаляет все версии workflow (каскадно удалит runs и schedules).
func (r *WorkflowRepo) Delete(ctx context.Context, name string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM workflow_defs WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanDef сканирует одну строку в WorkflowDef.
func (r *WorkflowRepo) scanDef(row pgx.Row) (*domain.WorkflowDef, error) {
	var defJSON []byte
	var version int

	err := row.Scan(&defJSON, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow def: %w", err)
	}

	var def domain.WorkflowDef
	if err := json.Unmarshal(defJSON, &def); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	def.Version = version

	return &def, nil
}
