package run

import (
	"context"

	"github.com/veligo/chronodrive/classify"
)

// Credentials authenticate a driver session against the target application.
type Credentials struct {
	Username string
	Password string
}

// Session is an opaque handle to an open driver session (browser page,
// logged-in state). Its concrete type is owned by the Driver implementation.
type Session interface{}

// Driver is the browser-automation capability a run is executed against.
// Implementations live outside this module; the controller only needs the
// four operations below.
//
// Close must be idempotent: closing an already-closed session is a no-op.
type Driver interface {
	// Open authenticates and returns a session ready for entries.
	Open(ctx context.Context, creds Credentials) (Session, error)

	// PerformEntry records a full multi-field entry for a regular row.
	PerformEntry(ctx context.Context, session Session, row classify.Row) error

	// PerformSpecialEntry records a vacation/no-work/weekend day for a row.
	PerformSpecialEntry(ctx context.Context, session Session, row classify.Row, kind classify.Kind) error

	// Close releases the session's resources.
	Close(session Session) error
}
