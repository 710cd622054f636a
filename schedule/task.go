package schedule

import (
	"time"

	"github.com/google/uuid"

	"github.com/veligo/chronodrive/errors"
)

// Task is a scheduled batch run: a recurrence spec plus the accounts whose
// rows the run covers. Disabled tasks are kept but never triggered.
type Task struct {
	ID         string
	Name       string
	Enabled    bool
	Spec       Spec
	AccountIDs []string

	LastRunAt *time.Time
	NextRunAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTask builds an enabled task with its first due time computed from now.
func NewTask(name string, spec Spec, accountIDs []string, now time.Time) (*Task, error) {
	if name == "" {
		return nil, errors.New("task name is required")
	}
	if spec == nil {
		return nil, errors.Wrap(errors.ErrInvalidSchedule, "task needs a schedule")
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	t := &Task{
		ID:         uuid.New().String(),
		Name:       name,
		Enabled:    true,
		Spec:       spec,
		AccountIDs: accountIDs,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if next, ok := spec.NextRun(now); ok {
		t.NextRunAt = &next
	}
	return t, nil
}

// Due reports whether the task should trigger at now.
func (t *Task) Due(now time.Time) bool {
	return t.Enabled && t.NextRunAt != nil && !t.NextRunAt.After(now)
}
