package schedule

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veligo/chronodrive/errors"
)

// Sqlmock tests covering database failure paths the in-memory store tests
// cannot reach.

func TestCreateTaskExecError_Sqlmock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)
	task := mustTask(t, "batch", Daily{At: TimeOfDay{Hour: 9}}, sept(1, 8, 0))

	mock.ExpectExec("INSERT INTO scheduled_tasks").
		WillReturnError(errors.New("disk I/O error"))

	err = store.CreateTask(task)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create scheduled task")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListDueTasksQueryError_Sqlmock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)

	mock.ExpectQuery("SELECT (.+) FROM scheduled_tasks").
		WillReturnError(errors.New("database is locked"))

	_, err = store.ListDueTasks(sept(1, 9, 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list due tasks")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTaskCorruptSchedule_Sqlmock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)

	rows := sqlmock.NewRows([]string{
		"id", "name", "enabled", "schedule", "account_ids",
		"last_run_at", "next_run_at", "created_at", "updated_at",
	}).AddRow("t1", "batch", 1, "{not json", "[]",
		nil, nil, "2026-09-01T08:00:00Z", "2026-09-01T08:00:00Z")

	mock.ExpectQuery("SELECT (.+) FROM scheduled_tasks").
		WithArgs("t1").
		WillReturnRows(rows)

	_, err = store.GetTask("t1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode schedule")
	require.NoError(t, mock.ExpectationsWereMet())
}
