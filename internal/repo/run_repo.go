package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nmakarov/conveyor/internal/domain"
)

// RunRepo — репозиторий для работы с runs и их task records.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// Create создаёт новый run.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	inputJSON, err := json.Marshal(run.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}

	query := `
		INSERT INTO runs (id, workflow_name, workflow_version, status, input, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.WorkflowName,
		run.WorkflowVersion,
		run.Status,
		inputJSON,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `
		SELECT id, workflow_name, workflow_version, status, input, output,
		       error, started_at, finished_at, created_at
		FROM runs
		WHERE id = $1
	`
	return r.scanRun(r.pool.QueryRow(ctx, query, id))
}

// List возвращает список runs с фильтрацией.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	query := `
		SELECT id, workflow_name, workflow_version, status, input, output,
		       error, started_at, finished_at, created_at
		FROM runs
		WHERE ($1::text IS NULL OR workflow_name = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(filter.WorkflowName),
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := r.scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Update обновляет изменяемые поля run.
func (r *RunRepo) Update(ctx context.Context, run *domain.Run) error {
	outputJSON, err := json.Marshal(run.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}

	query := `
		UPDATE runs
		SET status = $2, output = $3, error = $4, started_at = $5, finished_at = $6
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		outputJSON,
		nullString(run.Error),
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateTaskRecords сохраняет результаты задач завершённого run.
// Записи вставляются одним batch.
func (r *RunRepo) CreateTaskRecords(ctx context.Context, records []domain.TaskRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		outputJSON, err := json.Marshal(rec.Output)
		if err != nil {
			return fmt.Errorf("marshal task output: %w", err)
		}
		batch.Queue(`
			INSERT INTO task_records (id, run_id, task_id, type, status, output, error, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, rec.ID, rec.RunID, rec.TaskID, rec.Type, rec.Status, outputJSON, nullString(rec.Error), rec.CreatedAt)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert task record: %w", err)
		}
	}
	return nil
}

// ListTaskRecords возвращает результаты задач одного run.
func (r *RunRepo) ListTaskRecords(ctx context.Context, runID uuid.UUID) ([]domain.TaskRecord, error) {
	query := `
		SELECT id, run_id, task_id, type, status, output, error, created_at
		FROM task_records
		WHERE run_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list task records: %w", err)
	}
	defer rows.Close()

	var records []domain.TaskRecord
	for rows.Next() {
		var rec domain.TaskRecord
		var outputJSON []byte
		var recError *string

		if err := rows.Scan(
			&rec.ID,
			&rec.RunID,
			&rec.TaskID,
			&rec.Type,
			&rec.Status,
			&outputJSON,
			&recError,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan task record: %w", err)
		}

		if outputJSON != nil {
			if err := json.Unmarshal(outputJSON, &rec.Output); err != nil {
				return nil, fmt.Errorf("unmarshal task output: %w", err)
			}
		}
		if recError != nil {
			rec.Error = *recError
		}

		records = append(records, rec)
	}
	return records, rows.Err()
}

// --- Helpers ---

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	WorkflowName string
	Status       domain.RunStatus
	Limit        int
	Offset       int
}

// scanRun сканирует одну строку в Run.
func (r *RunRepo) scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var inputJSON, outputJSON []byte
	var runError *string

	err := row.Scan(
		&run.ID,
		&run.WorkflowName,
		&run.WorkflowVersion,
		&run.Status,
		&inputJSON,
		&outputJSON,
		&runError,
		&run.StartedAt,
		&run.FinishedAt,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if inputJSON != nil {
		if err := json.Unmarshal(inputJSON, &run.Input); err != nil {
			return nil, fmt.Errorf("unmarshal input: %w", err)
		}
	}
	if outputJSON != nil {
		if err := json.Unmarshal(outputJSON, &run.Output); err != nil {
			return nil, fmt.Errorf("unmarshal output: %w", err)
		}
	}
	if runError != nil {
		run.Error = *runError
	}

	return &run, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
