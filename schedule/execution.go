package schedule

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/veligo/chronodrive/errors"
	"github.com/veligo/chronodrive/internal/util"
)

// Execution statuses.
const (
	ExecutionRunning   = "running"
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
)

// Execution is one triggered run of a task, recorded for history.
type Execution struct {
	ID          string
	TaskID      string
	Status      string
	StartedAt   time.Time
	CompletedAt *time.Time
	DurationMS  *int64
	RowsTotal   int
	RowsFailed  int
	Error       string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewExecution starts an execution record for a task.
func NewExecution(taskID string, startedAt time.Time) *Execution {
	return &Execution{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		Status:    ExecutionRunning,
		StartedAt: startedAt,
		CreatedAt: startedAt,
		UpdatedAt: startedAt,
	}
}

// Finish marks the execution terminal and fills in duration.
func (e *Execution) Finish(status string, completedAt time.Time, rowsTotal, rowsFailed int, errMsg string) {
	e.Status = status
	e.CompletedAt = util.Ptr(completedAt)
	e.DurationMS = util.Ptr(completedAt.Sub(e.StartedAt).Milliseconds())
	e.RowsTotal = rowsTotal
	e.RowsFailed = rowsFailed
	e.Error = errMsg
}

// ExecutionStore persists task execution history.
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore creates an execution store backed by db.
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// CreateExecution inserts a new execution record.
func (s *ExecutionStore) CreateExecution(exec *Execution) error {
	query := `
		INSERT INTO task_executions (
			id, task_id, status, started_at, completed_at, duration_ms,
			rows_total, rows_failed, error_message, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var errMsg interface{}
	if exec.Error != "" {
		errMsg = exec.Error
	}

	_, err := s.db.Exec(query,
		exec.ID,
		exec.TaskID,
		exec.Status,
		exec.StartedAt.Format(time.RFC3339),
		nullableTime(exec.CompletedAt),
		exec.DurationMS,
		exec.RowsTotal,
		exec.RowsFailed,
		errMsg,
		exec.CreatedAt.Format(time.RFC3339),
		exec.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create task execution")
	}
	return nil
}

// UpdateExecution rewrites an execution's terminal fields.
func (s *ExecutionStore) UpdateExecution(exec *Execution) error {
	query := `
		UPDATE task_executions
		SET status = ?, completed_at = ?, duration_ms = ?,
		    rows_total = ?, rows_failed = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`

	var errMsg interface{}
	if exec.Error != "" {
		errMsg = exec.Error
	}

	_, err := s.db.Exec(query,
		exec.Status,
		nullableTime(exec.CompletedAt),
		exec.DurationMS,
		exec.RowsTotal,
		exec.RowsFailed,
		errMsg,
		time.Now().Format(time.RFC3339),
		exec.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update execution %s", exec.ID)
	}
	return nil
}

// ListExecutions returns the most recent executions for a task, newest first.
func (s *ExecutionStore) ListExecutions(taskID string, limit int) ([]*Execution, error) {
	query := `
		SELECT id, task_id, status, started_at, completed_at, duration_ms,
		       rows_total, rows_failed, error_message, created_at, updated_at
		FROM task_executions
		WHERE task_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, taskID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list task executions")
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func scanExecution(row scanner) (*Execution, error) {
	var exec Execution
	var startedAt, createdAt, updatedAt string
	var completedAt, errMsg sql.NullString
	var durationMS sql.NullInt64

	err := row.Scan(
		&exec.ID,
		&exec.TaskID,
		&exec.Status,
		&startedAt,
		&completedAt,
		&durationMS,
		&exec.RowsTotal,
		&exec.RowsFailed,
		&errMsg,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if exec.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
		return nil, errors.Wrapf(err, "parse started_at for execution %s", exec.ID)
	}
	if exec.CompletedAt, err = parseNullableTime(completedAt); err != nil {
		return nil, errors.Wrapf(err, "parse completed_at for execution %s", exec.ID)
	}
	if durationMS.Valid {
		exec.DurationMS = util.Ptr(durationMS.Int64)
	}
	if errMsg.Valid {
		exec.Error = errMsg.String
	}
	if exec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(err, "parse created_at for execution %s", exec.ID)
	}
	if exec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, errors.Wrapf(err, "parse updated_at for execution %s", exec.ID)
	}
	return &exec, nil
}
