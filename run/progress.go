package run

import "time"

// State is the run controller's lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateStopping  State = "stopping"
	StateCompleted State = "completed"
	StateError     State = "error"
)

// Active reports whether a run is in progress in some form. Starting a new
// run is rejected while the controller is active.
func (s State) Active() bool {
	return s == StateRunning || s == StatePaused || s == StateStopping
}

// Terminal reports whether the run has finished.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError || s == StateIdle
}

// Progress is a snapshot of run advancement. CurrentIndex is the number of
// rows fully processed (success or failure); it is monotonically
// non-decreasing within a run.
type Progress struct {
	Status       State  `json:"status"`
	CurrentIndex int    `json:"current_index"`
	TotalRows    int    `json:"total_rows"`
	Message      string `json:"message"`
}

// Log levels for discrete run events.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
	LevelSuccess = "success"
)

// LogEvent is a discrete, user-visible event in the run's log stream.
type LogEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Emitter consumes the progress and log streams produced by a run.
// Implementations must be safe for concurrent use; the controller emits
// from its run goroutine while control calls arrive from others.
type Emitter interface {
	// EmitProgress announces a progress snapshot. Emitted after every row
	// and on every state transition.
	EmitProgress(p Progress)

	// EmitLog announces a discrete log event.
	EmitLog(e LogEvent)
}

// NopEmitter discards all events.
type NopEmitter struct{}

func (NopEmitter) EmitProgress(Progress) {}
func (NopEmitter) EmitLog(LogEvent)      {}

// MultiEmitter fans events out to several emitters.
type MultiEmitter []Emitter

func (m MultiEmitter) EmitProgress(p Progress) {
	for _, e := range m {
		e.EmitProgress(p)
	}
}

func (m MultiEmitter) EmitLog(ev LogEvent) {
	for _, e := range m {
		e.EmitLog(ev)
	}
}
