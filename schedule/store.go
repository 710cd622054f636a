package schedule

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/veligo/chronodrive/errors"
)

// Store persists scheduled tasks.
type Store struct {
	db *sql.DB
}

// NewStore creates a task store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const taskColumns = `id, name, enabled, schedule, account_ids,
	       last_run_at, next_run_at, created_at, updated_at`

// CreateTask inserts a new task.
func (s *Store) CreateTask(task *Task) error {
	query := `
		INSERT INTO scheduled_tasks (
			id, name, enabled, schedule, account_ids,
			last_run_at, next_run_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	spec, err := MarshalSpec(task.Spec)
	if err != nil {
		return errors.Wrapf(err, "encode schedule for task %s", task.ID)
	}
	accounts, err := json.Marshal(task.AccountIDs)
	if err != nil {
		return errors.Wrapf(err, "encode accounts for task %s", task.ID)
	}

	_, err = s.db.Exec(query,
		task.ID,
		task.Name,
		task.Enabled,
		string(spec),
		string(accounts),
		nullableTime(task.LastRunAt),
		nullableTime(task.NextRunAt),
		task.CreatedAt.Format(time.RFC3339),
		task.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create scheduled task")
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(id string) (*Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM scheduled_tasks
		WHERE id = ?
	`

	task, err := scanTask(s.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrTaskNotFound, "task %s", id)
		}
		return nil, errors.Wrap(err, "failed to get scheduled task")
	}
	return task, nil
}

// ListTasks returns all tasks ordered by name.
func (s *Store) ListTasks() ([]*Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM scheduled_tasks
		ORDER BY name
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list scheduled tasks")
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ListDueTasks returns enabled tasks whose next run is at or before now,
// ordered soonest first.
func (s *Store) ListDueTasks(now time.Time) ([]*Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM scheduled_tasks
		WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at
	`

	rows, err := s.db.Query(query, now.Format(time.RFC3339))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due tasks")
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// NextDueTask returns the enabled task with the earliest next run, or nil
// when nothing is scheduled.
func (s *Store) NextDueTask() (*Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM scheduled_tasks
		WHERE enabled = 1 AND next_run_at IS NOT NULL
		ORDER BY next_run_at
		LIMIT 1
	`

	task, err := scanTask(s.db.QueryRow(query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to find next due task")
	}
	return task, nil
}

// UpdateTask rewrites a task's mutable fields.
func (s *Store) UpdateTask(task *Task) error {
	query := `
		UPDATE scheduled_tasks
		SET name = ?, enabled = ?, schedule = ?, account_ids = ?,
		    last_run_at = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?
	`

	spec, err := MarshalSpec(task.Spec)
	if err != nil {
		return errors.Wrapf(err, "encode schedule for task %s", task.ID)
	}
	accounts, err := json.Marshal(task.AccountIDs)
	if err != nil {
		return errors.Wrapf(err, "encode accounts for task %s", task.ID)
	}

	result, err := s.db.Exec(query,
		task.Name,
		task.Enabled,
		string(spec),
		string(accounts),
		nullableTime(task.LastRunAt),
		nullableTime(task.NextRunAt),
		time.Now().Format(time.RFC3339),
		task.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update scheduled task")
	}
	return requireRow(result, task.ID)
}

// MarkRun records a trigger: last run set to ranAt, next run advanced. A
// nil next disables the task (an elapsed one-shot). A task the operator
// disabled stays disabled and keeps a cleared next_run_at; recording a run
// never re-enables anything.
func (s *Store) MarkRun(id string, ranAt time.Time, next *time.Time) error {
	query := `
		UPDATE scheduled_tasks
		SET last_run_at = ?,
		    next_run_at = CASE WHEN enabled THEN ? ELSE NULL END,
		    enabled = enabled AND ?,
		    updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(query,
		ranAt.Format(time.RFC3339),
		nullableTime(next),
		next != nil,
		time.Now().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to record run for task %s", id)
	}
	return requireRow(result, id)
}

// SetEnabled toggles a task. Enabling recomputes next_run_at from the given
// time; disabling clears it.
func (s *Store) SetEnabled(id string, enabled bool, now time.Time) error {
	task, err := s.GetTask(id)
	if err != nil {
		return err
	}

	task.Enabled = enabled
	task.NextRunAt = nil
	if enabled {
		if next, ok := task.Spec.NextRun(now); ok {
			task.NextRunAt = &next
		}
	}
	return s.UpdateTask(task)
}

// DeleteTask removes a task and its execution history.
func (s *Store) DeleteTask(id string) error {
	if _, err := s.db.Exec(`DELETE FROM task_executions WHERE task_id = ?`, id); err != nil {
		return errors.Wrapf(err, "failed to delete executions for task %s", id)
	}

	result, err := s.db.Exec(`DELETE FROM scheduled_tasks WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete scheduled task")
	}
	return requireRow(result, id)
}

// scanner abstracts sql.Row and sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row scanner) (*Task, error) {
	var task Task
	var enabled int
	var spec, accounts, createdAt, updatedAt string
	var lastRunAt, nextRunAt sql.NullString

	err := row.Scan(
		&task.ID,
		&task.Name,
		&enabled,
		&spec,
		&accounts,
		&lastRunAt,
		&nextRunAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Enabled = enabled != 0
	if task.Spec, err = UnmarshalSpec([]byte(spec)); err != nil {
		return nil, errors.Wrapf(err, "decode schedule for task %s", task.ID)
	}
	if err = json.Unmarshal([]byte(accounts), &task.AccountIDs); err != nil {
		return nil, errors.Wrapf(err, "decode accounts for task %s", task.ID)
	}
	if task.LastRunAt, err = parseNullableTime(lastRunAt); err != nil {
		return nil, errors.Wrapf(err, "parse last_run_at for task %s", task.ID)
	}
	if task.NextRunAt, err = parseNullableTime(nextRunAt); err != nil {
		return nil, errors.Wrapf(err, "parse next_run_at for task %s", task.ID)
	}
	if task.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(err, "parse created_at for task %s", task.ID)
	}
	if task.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, errors.Wrapf(err, "parse updated_at for task %s", task.ID)
	}
	return &task, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func requireRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if n == 0 {
		return errors.Wrapf(errors.ErrTaskNotFound, "task %s", id)
	}
	return nil
}
