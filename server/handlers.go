package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/veligo/chronodrive/errors"
	"github.com/veligo/chronodrive/run"
	"github.com/veligo/chronodrive/schedule"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}

// handleStatus reports the current run's state and progress.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	current := s.runs.Current()
	if current == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"state": run.StateIdle,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":    current.State(),
		"progress": current.Snapshot(),
	})
}

// activeRun resolves the run the control endpoints operate on.
func (s *Server) activeRun(w http.ResponseWriter) *run.Controller {
	active := s.runs.Active()
	if active == nil {
		writeError(w, http.StatusConflict, errors.New("no active run"))
	}
	return active
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.controlRun(w, r, "pause", (*run.Controller).Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.controlRun(w, r, "resume", (*run.Controller).Resume)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.controlRun(w, r, "stop", (*run.Controller).Stop)
}

func (s *Server) controlRun(w http.ResponseWriter, r *http.Request, action string, op func(*run.Controller) error) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	active := s.activeRun(w)
	if active == nil {
		return
	}

	if err := op(active); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	s.logger.Infow("Run control applied", "action", action)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":    active.State(),
		"progress": active.Snapshot(),
	})
}

// taskResponse is the wire shape of a scheduled task.
type taskResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Enabled   bool            `json:"enabled"`
	Schedule  json.RawMessage `json:"schedule"`
	Accounts  []string        `json:"accounts"`
	LastRunAt *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt *time.Time      `json:"next_run_at,omitempty"`
}

func toTaskResponse(t *schedule.Task) (taskResponse, error) {
	spec, err := schedule.MarshalSpec(t.Spec)
	if err != nil {
		return taskResponse{}, err
	}
	return taskResponse{
		ID:        t.ID,
		Name:      t.Name,
		Enabled:   t.Enabled,
		Schedule:  spec,
		Accounts:  t.AccountIDs,
		LastRunAt: t.LastRunAt,
		NextRunAt: t.NextRunAt,
	}, nil
}

// handleTasks lists tasks (GET) or creates one (POST).
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tasks, err := s.tasks.ListTasks()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		out := make([]taskResponse, 0, len(tasks))
		for _, t := range tasks {
			resp, err := toTaskResponse(t)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			out = append(out, resp)
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		var req struct {
			Name     string          `json:"name"`
			Schedule json.RawMessage `json:"schedule"`
			Accounts []string        `json:"accounts"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid request body"))
			return
		}

		spec, err := schedule.UnmarshalSpec(req.Schedule)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		task, err := schedule.NewTask(req.Name, spec, req.Accounts, time.Now())
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.tasks.CreateTask(task); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}

		s.logger.Infow("Task created",
			"task_id", task.ID,
			"task_name", task.Name,
			"kind", spec.Kind())
		resp, err := toTaskResponse(task)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleTask routes /api/tasks/{id} and /api/tasks/{id}/{action}.
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.taskDetail(w, id)
	case action == "" && r.Method == http.MethodDelete:
		s.deleteTask(w, id)
	case action == "run-now" && r.Method == http.MethodPost:
		s.runTaskNow(w, id)
	case (action == "enable" || action == "disable") && r.Method == http.MethodPost:
		s.toggleTask(w, id, action == "enable")
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) taskDetail(w http.ResponseWriter, id string) {
	task, err := s.tasks.GetTask(id)
	if err != nil {
		writeError(w, taskErrStatus(err), err)
		return
	}

	resp, err := toTaskResponse(task)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	execs, err := s.execs.ListExecutions(id, 20)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	type executionResponse struct {
		ID          string     `json:"id"`
		Status      string     `json:"status"`
		StartedAt   time.Time  `json:"started_at"`
		CompletedAt *time.Time `json:"completed_at,omitempty"`
		DurationMS  *int64     `json:"duration_ms,omitempty"`
		RowsTotal   int        `json:"rows_total"`
		RowsFailed  int        `json:"rows_failed"`
		Error       string     `json:"error,omitempty"`
	}
	history := make([]executionResponse, 0, len(execs))
	for _, e := range execs {
		history = append(history, executionResponse{
			ID:          e.ID,
			Status:      e.Status,
			StartedAt:   e.StartedAt,
			CompletedAt: e.CompletedAt,
			DurationMS:  e.DurationMS,
			RowsTotal:   e.RowsTotal,
			RowsFailed:  e.RowsFailed,
			Error:       e.Error,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"task":       resp,
		"executions": history,
	})
}

func (s *Server) deleteTask(w http.ResponseWriter, id string) {
	if err := s.tasks.DeleteTask(id); err != nil {
		writeError(w, taskErrStatus(err), err)
		return
	}
	s.logger.Infow("Task deleted", "task_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) runTaskNow(w http.ResponseWriter, id string) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("scheduler not running"))
		return
	}
	if err := s.scheduler.RunNow(id); err != nil {
		if errors.Is(err, errors.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, taskErrStatus(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) toggleTask(w http.ResponseWriter, id string, enabled bool) {
	if err := s.tasks.SetEnabled(id, enabled, time.Now()); err != nil {
		writeError(w, taskErrStatus(err), err)
		return
	}
	task, err := s.tasks.GetTask(id)
	if err != nil {
		writeError(w, taskErrStatus(err), err)
		return
	}
	resp, err := toTaskResponse(task)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func taskErrStatus(err error) int {
	if errors.IsTaskNotFound(err) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
